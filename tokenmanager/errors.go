package tokenmanager

import (
	"errors"
	"fmt"
	"time"
)

// 定义一些包级别的错误，方便调用者进行类型检查。
var (
	ErrTokenNotFound      = errors.New("token not found in the pool")       // 尝试操作不存在的 token 时返回
	ErrNoTokenAvailable   = errors.New("no token available in the pool")    // 选取时没有任何可用 token
	ErrRefreshInProgress  = errors.New("bulk refresh already in progress")  // 批量刷新的单飞限制
	ErrUnknownSnapshotVer = errors.New("unknown token snapshot version")    // 快照版本高于当前程序支持的版本
)

// UnavailableError 描述选取失败的具体原因，供服务层区分
// "全部冷却中（可附带 Retry-After）" 和 "池已耗尽" 两种情况。
type UnavailableError struct {
	AllCooling bool          // true 表示存在启用且未被排除的 token，只是都在冷却中
	RetryAfter time.Duration // AllCooling 时为最近一个冷却结束的等待时长
	Excluded   int           // 本次选取被排除的 token 数量
}

func (e *UnavailableError) Error() string {
	if e.AllCooling {
		return fmt.Sprintf("所有 Token 都在冷却中，最快 %d秒 后解除", int(e.RetryAfter.Seconds()))
	}
	if e.Excluded > 0 {
		return fmt.Sprintf("没有更多可用的 Token（已排除 %d 个）", e.Excluded)
	}
	return "没有可用的 Token"
}

// Unwrap 让 errors.Is(err, ErrNoTokenAvailable) 对所有选取失败成立。
func (e *UnavailableError) Unwrap() error {
	return ErrNoTokenAvailable
}
