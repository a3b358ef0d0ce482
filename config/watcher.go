package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// envFileName 监听的配置文件名，与 godotenv 的默认加载目标一致。
const envFileName = ".env"

// WatchEnvFile 监听工作目录下的 .env 文件，文件被写入后重新加载动态配置。
// 监听的是所在目录而非文件本身：编辑器普遍采用"写临时文件再改名"的保存方式，
// 直接 watch 文件会在第一次改名后失效。
// ctx 取消时监听退出。文件不存在时静默返回（纯环境变量部署无需监听）。
func WatchEnvFile(ctx context.Context) {
	if _, err := os.Stat(envFileName); err != nil {
		Log.Debugf("未找到 %s 文件，跳过配置文件监听。", envFileName)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		Log.Warnf("创建 .env 文件监听器失败: %v，配置文件热重载不可用。", err)
		return
	}

	dir, err := filepath.Abs(".")
	if err != nil {
		Log.Warnf("解析工作目录失败: %v，配置文件热重载不可用。", err)
		_ = watcher.Close()
		return
	}
	if err := watcher.Add(dir); err != nil {
		Log.Warnf("监听目录 %s 失败: %v，配置文件热重载不可用。", dir, err)
		_ = watcher.Close()
		return
	}

	Log.Infof("已启动 %s 文件监听，修改后动态配置将自动重载。", envFileName)

	go func() {
		defer watcher.Close()

		// 去抖动定时器：编辑器保存往往触发连续多个事件，只在静默 500ms 后重载一次。
		var debounce *time.Timer
		trigger := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				if err := godotenv.Overload(); err != nil {
					Log.Warnf("重新加载 %s 失败: %v", envFileName, err)
					return
				}
				Reload()
			})
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				Log.Debug(".env 文件监听已停止。")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != envFileName {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					Log.Debugf("检测到 %s 变更 (%s)，准备重载配置。", envFileName, event.Op)
					trigger()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				Log.Warnf(".env 文件监听错误: %v", err)
			}
		}
	}()
}
