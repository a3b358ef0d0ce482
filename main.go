// main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/XingLingQAQ/grok2api-new/config"
	"github.com/XingLingQAQ/grok2api-new/grokclient"
	"github.com/XingLingQAQ/grok2api-new/handlers"
	"github.com/XingLingQAQ/grok2api-new/middleware" // middleware.VerifyAPIKey 保护 /v1 路由组
	"github.com/XingLingQAQ/grok2api-new/storage"
	"github.com/XingLingQAQ/grok2api-new/tokenmanager"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"              // gorilla/sessions 用于管理端会话
	"github.com/sirupsen/logrus"               // Logrus 日志库
	_ "golang.org/x/crypto/x509roots/fallback" // 为无系统根证书的精简容器环境内置 CA 根证书
)

// 全局变量声明
var (
	log          *logrus.Logger // 全局日志记录器实例
	appStartTime = time.Now()   // 记录应用程序启动时间
)

func main() {
	// 1. 初始化日志记录器
	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,                      // 显示完整时间戳
		TimestampFormat: "2006-01-02 15:04:05.000", // 时间戳格式
	})
	log.SetOutput(os.Stdout)       // 日志输出到标准输出
	log.SetLevel(logrus.InfoLevel) // 默认日志级别

	// 2. 加载应用程序配置
	config.Init(log) // 从环境变量或 .env 文件加载配置
	// 根据配置设置日志级别
	if level, err := logrus.ParseLevel(config.AppSettings.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("无效的 LOG_LEVEL 配置 '%s', 将使用默认 Info 级别。", config.AppSettings.LogLevel)
	}
	log.Infof("日志级别已设置为: %s", log.GetLevel().String())

	// 关键安全配置检查和警告
	if config.AppSettings.AdminPassword == "" {
		log.Error("严重警告: 管理员密码 (ADMIN_PASSWORD) 未设置或为空! 管理接口登录功能将无法使用或极不安全。请立即配置一个强密码。")
	} else if config.AppSettings.AdminPassword == config.DefaultAdminPassword {
		log.Warnf("安全警告: 管理员密码 (ADMIN_PASSWORD) 当前为默认值 '%s'。强烈建议修改为一个强密码以保证安全!", config.DefaultAdminPassword)
	}

	if config.AppSettings.SessionSecretKey == config.DefaultSessionSecretKey || config.AppSettings.SessionSecretKey == "" {
		log.Warnf("安全警告: Session 密钥 (SESSION_SECRET_KEY) 为默认值或未设置，这非常不安全! 请在生产环境中设置一个长且随机的密钥。")
		if config.AppSettings.SessionSecretKey == "" { // 如果为空，则强制使用一个默认的临时密钥以避免程序崩溃
			config.AppSettings.SessionSecretKey = config.DefaultSessionSecretKey // 但这仍然不安全
			log.Error("Session 密钥为空，已临时设置为默认值。这极不安全，请立即配置 SESSION_SECRET_KEY。")
		}
	}

	// 3. 初始化 Session Store
	// sessionKey 用于签名和加密 cookie。它应该是随机的、保密的，并且足够长（建议32或64字节）。
	var sessionKeyBytes = []byte(config.AppSettings.SessionSecretKey)
	// handlers.Store 是在 handlers 包中定义的全局变量
	handlers.Store = sessions.NewCookieStore(sessionKeyBytes)
	handlers.Store.Options = &sessions.Options{
		Path:     handlers.SessionPath,   // 限制 cookie 只对 /admin 路径有效 (来自 handlers 常量)
		MaxAge:   handlers.MaxAgeSeconds, // Session 有效期 (来自 handlers 常量)
		HttpOnly: true,                   // JS无法访问 cookie，增强安全性
		Secure:   false,                  // 【重要】生产环境如果是 HTTPS，这里应该为 true。可通过配置控制。
		SameSite: http.SameSiteLaxMode,   // SameSite 设置，有助于 CSRF 防护。
	}
	log.Info("Session Store 初始化完成。")
	if !handlers.Store.Options.Secure { // 根据实际部署情况调整
		log.Warn("Session cookie 的 Secure 标志当前为 false。如果您的服务部署在 HTTPS 环境下，请务必在生产中将其配置为 true 以增强安全性。")
	}

	// 4. 初始化全局组件并将日志记录器传递给需要的包
	middleware.Log = log // 为 middleware 包设置日志记录器
	handlers.Log = log   // 为 handlers 包设置日志记录器

	// 初始化持久化后端（sqlite / mysql / redis，由 STORAGE_TYPE 决定）。
	store, err := storage.NewStore(log)
	if err != nil {
		log.Fatalf("持久化后端初始化失败: %v", err)
	}

	// 初始化 grok.com 探测客户端（额度与订阅检查都通过它发出）。
	grokClient, err := grokclient.New(
		config.AppSettings.GrokBaseURL,
		config.AppSettings.ProxyURL,
		config.AppSettings.RequestTimeout,
		log,
	)
	if err != nil {
		log.Fatalf("grok.com 探测客户端初始化失败: %v", err)
	}

	// 初始化 Token 管理器并从持久化后端恢复池状态。
	// 池数据无法加载时直接退出：带着空池启动会让轮询悄悄失效。
	tokenMgr := tokenmanager.NewManager(store, grokClient, log,
		config.AppSettings.RefreshWorkers, config.AppSettings.RefreshQueueSize)
	if err := tokenMgr.Load(context.Background()); err != nil {
		log.Fatalf("加载 Token 池失败: %v", err)
	}

	// 5. 应用启动逻辑
	log.Info("应用程序核心服务启动中...")
	// 池为空时用 SSO_TOKENS 环境变量播种；已有持久化数据时以持久化为准，
	// 避免每次重启都重复导入同一批 token。
	if config.AppSettings.SSOTokens != "" && tokenMgr.TotalTokens() == 0 {
		seedTokens := strings.Split(config.AppSettings.SSOTokens, ",")
		result := tokenMgr.AddTokensBatch(seedTokens, "", true)
		log.Infof("已从 SSO_TOKENS 播种 Token 池: 新增 %d, 重复 %d, 空白 %d",
			result.Added, result.Duplicates, result.Empty)
	} else if tokenMgr.TotalTokens() == 0 {
		log.Warn("Token 池为空且未配置 SSO_TOKENS。请通过管理接口添加 token，否则服务无可用凭证。")
	}

	// 6. 启动后台任务（后台额度刷新 worker 与 .env 热重载监听）
	// 使用 context 控制后台 goroutine 的生命周期，以便在应用关闭时能够优雅停止。
	appCtx, appCancelFunc := context.WithCancel(context.Background())
	tokenMgr.Start(appCtx)      // 启动后台额度刷新 worker 池
	config.WatchEnvFile(appCtx) // 监听 .env 变更并热重载动态配置项
	log.Infof("Token 管理器已初始化（当前池中 %d 个 token），后台额度刷新任务已启动。", tokenMgr.TotalTokens())

	handlers.TokenMgr = tokenMgr         // 将 tokenMgr 实例注入到 handlers 包
	handlers.AppStartTime = appStartTime // 将应用启动时间注入 handlers 包，用于状态报告

	// 7. 设置 Gin 路由器
	// 根据配置设置 Gin 的运行模式 (debug 或 release)。
	// Release 模式性能更好，日志更少。Debug 模式输出更详细。
	if strings.ToLower(config.AppSettings.GinMode) == "release" {
		gin.SetMode(gin.ReleaseMode)
		log.Info("Gin 运行模式: release")
	} else {
		gin.SetMode(gin.DebugMode) // 默认为 debug 模式
		log.Info("Gin 运行模式: debug")
	}

	router := gin.New() // 创建一个新的 Gin 引擎，不带默认中间件 (gin.Default() 会带 Logger 和 Recovery)
	// 自定义日志中间件
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		// 自定义日志格式
		return fmt.Sprintf("%s | %s | %3d | %13v | %15s | %-7s %#v %s\n%s",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"), // 时间戳
			param.Request.Proto,                             // HTTP协议版本
			param.StatusCode,                                // HTTP状态码
			param.Latency,                                   // 请求处理延迟
			param.ClientIP,                                  // 客户端IP
			param.Method,                                    // HTTP方法
			param.Path,                                      // 请求路径
			param.Request.UserAgent(),                       // User-Agent
			param.ErrorMessage,                              // 错误信息（如果有）
		)
	}))
	router.Use(gin.Recovery())                     // 使用 Gin 的 Recovery 中间件来捕获 panic 并恢复
	router.Use(gzip.Gzip(gzip.DefaultCompression)) // 响应体 gzip 压缩（全部为 JSON 接口）

	// --- API 路由 (/v1) ---
	// OpenAI 兼容的模型查询端点。
	v1Group := router.Group("/v1")
	// 如果配置了 AppAPIKey，则使用 VerifyAPIKey 中间件保护 /v1 路由组。
	if config.AppSettings.AppAPIKey != "" {
		v1Group.Use(middleware.VerifyAPIKey())
		log.Info("'/v1/*' 路由组已启用 API 密钥认证 (APP_API_KEY)。")
	} else {
		log.Warn("警告: '/v1/*' 路由组未配置 API 密钥认证 (APP_API_KEY 未设置)。任何客户端都可访问。")
	}
	{
		v1Group.GET("/models", handlers.ListModelsHandler)   // 获取模型列表
		v1Group.GET("/models/:id", handlers.GetModelHandler) // 获取单个模型信息
	}

	// --- 管理员路由 (/admin) ---
	// 这个路由组用于 Token 池管理和相关操作（纯 JSON 接口）。
	adminGroup := router.Group("/admin")
	{
		// 登录处理 (POST) 本身不需要认证。
		adminGroup.POST("/login", handlers.LoginHandler) // 处理登录请求

		// 以下是需要认证才能访问的管理接口。
		// 创建一个新的子路由组，并对其应用 AuthMiddleware。
		authorizedAdminGroup := adminGroup.Group("/")
		authorizedAdminGroup.Use(handlers.AuthMiddleware()) // 应用会话认证中间件
		{
			authorizedAdminGroup.POST("/logout", handlers.LogoutHandler) // 处理登出请求

			// Token 池的增删改查。
			authorizedAdminGroup.GET("/tokens", handlers.ListTokensHandler)                 // 获取所有 token 的状态
			authorizedAdminGroup.POST("/tokens", handlers.AddTokenHandler)                  // 添加单个 token
			authorizedAdminGroup.PUT("/tokens", handlers.UpdateTokenHandler)                // 更新 token 的名称或启用状态
			authorizedAdminGroup.DELETE("/tokens", handlers.DeleteTokenHandler)             // 删除单个 token
			authorizedAdminGroup.POST("/tokens/batch", handlers.AddTokensBatchHandler)      // 批量添加 token
			authorizedAdminGroup.DELETE("/tokens/batch", handlers.DeleteTokensBatchHandler) // 批量删除 token

			// Token 的诊断与维护操作。
			authorizedAdminGroup.POST("/tokens/clear-cooldown", handlers.ClearCooldownHandler)       // 手动解除冷却
			authorizedAdminGroup.POST("/tokens/test", handlers.TestTokenHandler)                     // 即时探测单个 token
			authorizedAdminGroup.POST("/tokens/refresh", handlers.RefreshTokensHandler)              // 批量刷新全部 token 状态
			authorizedAdminGroup.GET("/tokens/refresh-progress", handlers.RefreshProgressHandler)    // 查询批量刷新进度
			authorizedAdminGroup.GET("/tokens/stats", handlers.TokenStatsHandler)                    // 获取池的聚合统计
			authorizedAdminGroup.POST("/tokens/import-browser", handlers.ImportBrowserTokensHandler) // 从本机浏览器导入 SSO cookie

			// 应用状态与运行时配置。
			authorizedAdminGroup.GET("/app-status", handlers.AppStatusHandler)     // 获取应用状态信息
			authorizedAdminGroup.GET("/settings", handlers.GetSettingsHandler)     // 读取当前配置
			authorizedAdminGroup.POST("/settings", handlers.UpdateSettingsHandler) // 热更新动态配置项
		}
	}
	log.Info("所有应用路由已设置完成。")

	// 8. 启动 HTTP 服务器
	serverAddr := ":" + config.AppSettings.Port
	log.Infof("服务即将启动，监听地址: http://localhost%s (或配置的域名/IP)", serverAddr)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,            // 使用配置好的 Gin 引擎作为处理器
		ReadTimeout:  15 * time.Second,  // 读取超时
		WriteTimeout: 300 * time.Second, // 写入超时（批量刷新接口会同步等待所有探测完成，需要较长时间）
		IdleTimeout:  120 * time.Second, // Keep-Alive 空闲连接超时
	}

	// 在 goroutine 中启动服务器，以便非阻塞地处理关闭信号。
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务器启动失败: %s\n", err)
		}
	}()
	log.Infof("服务器正在运行中... 按 CTRL+C 关闭。")

	// 9. 实现优雅关闭
	// 等待中断信号 (SIGINT) 或终止信号 (SIGTERM)。
	quitChannel := make(chan os.Signal, 1) // 创建一个缓冲通道，大小为1
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	<-quitChannel // 阻塞，直到收到信号

	log.Println("收到关闭信号，服务器正在优雅关闭...")

	// 创建一个带超时的上下文，用于服务器关闭。
	// 例如，给服务器10秒钟来完成当前正在处理的请求。
	shutdownCtx, shutdownCancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancelFunc()

	// 先停止接受新请求并排空在途请求，再停掉后台任务，
	// 保证处理中的请求还能正常触发成功/失败回报。
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("服务器优雅关闭失败: %v", err)
	}

	// 取消后台额度刷新与 .env 监听的上下文，等待 worker 退出并写出最终快照。
	appCancelFunc()
	tokenMgr.Shutdown()

	// 最后关闭持久化后端连接。
	if err := store.Close(); err != nil {
		log.Errorf("关闭持久化后端失败: %v", err)
	}

	log.Println("服务器已成功优雅关闭。")
}
