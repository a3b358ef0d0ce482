package handlers

import (
	"errors"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/XingLingQAQ/grok2api-new/config"
	"github.com/XingLingQAQ/grok2api-new/cookieimport"
	"github.com/XingLingQAQ/grok2api-new/models"
	"github.com/XingLingQAQ/grok2api-new/tokenmanager"
	"github.com/XingLingQAQ/grok2api-new/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
)

// 包级依赖，由 main.go 注入。
var (
	Log          *logrus.Logger
	TokenMgr     *tokenmanager.Manager
	AppStartTime time.Time
)

// Store 是一个包级变量，用于存储 session 的 CookieStore 实例。
// 它将在 main.go 中初始化并配置。
var Store *sessions.CookieStore

const (
	SessionKey    = "admin-session" // Session cookie 在浏览器中存储的名称。
	IsLoggedInKey = "is_logged_in"  // 在 session 数据中标记用户登录状态的键。
	MaxAgeSeconds = 3600 * 24 * 7   // Session cookie 的最大有效期（7天）。
	SessionPath   = "/admin"        // Session cookie 的作用路径，限制为 /admin 及其子路径。
)

// LoginRequest 定义了登录请求的JSON结构体。
// `binding:"required"` 标签指示 Gin 在绑定时此字段为必需。
type LoginRequest struct {
	Password string `json:"password" binding:"required"` // 用户提交的密码。
}

// LoginHandler 处理 `/admin/login` POST 请求，用于管理员登录。
func LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("LoginHandler: 无效的登录请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	// 【重要安全提示】: 在实际生产环境中，密码不应明文存储或直接比较。
	// 应使用安全的哈希算法（如 bcrypt 或 Argon2）存储密码哈希，并比较哈希值。
	// 此处为简化示例，直接比较明文密码。
	configuredPassword := config.AppSettings.AdminPassword
	if configuredPassword == "" || configuredPassword == config.DefaultAdminPassword && os.Getenv("ADMIN_PASSWORD") == "" {
		// 密码未配置或仍为不安全的默认值（且环境变量也未覆盖）时拒绝登录，
		// 强制用户设置一个安全的密码。
		Log.Error("LoginHandler: 管理员密码 (ADMIN_PASSWORD) 未在配置中安全设置或仍为默认值。登录功能禁用。")
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "管理员账户未正确配置或密码不安全，无法登录。", Type: "config_error"}})
		return
	}

	if req.Password == configuredPassword {
		session, _ := Store.Get(c.Request, SessionKey)
		session.Values[IsLoggedInKey] = true

		session.Options.MaxAge = MaxAgeSeconds
		session.Options.HttpOnly = true // 防止客户端 JavaScript 访问 cookie。
		session.Options.Path = SessionPath
		session.Options.SameSite = http.SameSiteLaxMode

		if err := session.Save(c.Request, c.Writer); err != nil {
			Log.Errorf("LoginHandler: 保存 session 失败: %v", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: models.ErrorDetail{
				Message: "登录时发生内部错误 (无法保存会话)。", Type: "internal_server_error"}})
			return
		}
		Log.Info("LoginHandler: 管理员登录成功。")
		c.JSON(http.StatusOK, gin.H{"message": "登录成功"})
	} else {
		Log.Warn("LoginHandler: 管理员登录失败，密码错误。")
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "密码错误。", Type: "authentication_error"}})
	}
}

// LogoutHandler 处理 `/admin/logout` POST 请求，用于管理员登出。
func LogoutHandler(c *gin.Context) {
	session, _ := Store.Get(c.Request, SessionKey)
	session.Values[IsLoggedInKey] = false
	session.Options.MaxAge = -1 // 使 cookie 立即过期，从而删除它。

	if err := session.Save(c.Request, c.Writer); err != nil {
		Log.Errorf("LogoutHandler: 保存 session (使之过期) 失败: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "登出时发生内部错误。", Type: "internal_server_error"}})
		return
	}
	Log.Info("LogoutHandler: 管理员已登出。")
	c.JSON(http.StatusOK, gin.H{"message": "登出成功"})
}

// AuthMiddleware 是一个 Gin 中间件，用于验证需要管理员权限的路由。
// 它检查 session 中是否存在有效的登录标记。管理接口只有 JSON 客户端，
// 未认证一律返回 401。
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := Store.Get(c.Request, SessionKey)
		// CookieStore 的 Get 通常不出错，除非密钥更改或 cookie 损坏。
		if err != nil {
			Log.Warnf("AuthMiddleware: 获取 session 失败: %v. 可能原因：store key 更改或 cookie 损坏。", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: models.ErrorDetail{
				Message: "会话无效或已损坏，请重新登录。", Type: "authentication_error"}})
			return
		}

		isLoggedIn, ok := session.Values[IsLoggedInKey].(bool)
		if !ok || !isLoggedIn {
			Log.Warnf("AuthMiddleware: 用户未登录或 session 无效。访问路径: %s", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: models.ErrorDetail{
				Message: "未授权访问。请先登录。", Type: "authentication_error"}})
			return
		}

		Log.Debugf("AuthMiddleware: 用户已认证。继续访问路径: %s", c.Request.URL.Path)
		c.Next()
	}
}

// AddTokenRequest 定义了添加单个 SSO token 的请求体结构。
type AddTokenRequest struct {
	Token string `json:"token" binding:"required"` // SSO token，可带 sso= 前缀
	Name  string `json:"name"`                     // 可选的显示名，缺省自动编号
}

// AddTokenHandler 处理 `/admin/tokens` POST 请求，向池中添加单个 token。
// 此端点受 AuthMiddleware 保护。
func AddTokenHandler(c *gin.Context) {
	var req AddTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("AddTokenHandler: 无效的添加请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	Log.Infof("AddTokenHandler: 收到添加 Token 的请求 (前缀: %s)", utils.RedactToken(req.Token))

	if !TokenMgr.AddToken(req.Token, req.Name) {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "无法添加：该 Token 已存在或为空。", Type: "token_already_exists"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token 添加成功。"})
}

// AddTokensBatchRequest 定义了批量添加 token 的请求体结构。
type AddTokensBatchRequest struct {
	Tokens     []string `json:"tokens" binding:"required"` // 待添加的 token 列表
	NamePrefix string   `json:"name_prefix"`               // 可选的命名前缀
	Enabled    *bool    `json:"enabled"`                   // 缺省为 true
}

// AddTokensBatchHandler 处理 `/admin/tokens/batch` POST 请求。
// 批次内部去重、与池去重，整批最多落盘一次。此端点受 AuthMiddleware 保护。
func AddTokensBatchHandler(c *gin.Context) {
	var req AddTokensBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("AddTokensBatchHandler: 无效的批量添加请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	result := TokenMgr.AddTokensBatch(req.Tokens, req.NamePrefix, utils.DerefBool(req.Enabled, true))
	c.JSON(http.StatusOK, result)
}

// ListTokensHandler 处理 `/admin/tokens` GET 请求。
// 返回当前池中所有 token 的视图（含计算出的冷却状态），按创建时间排序。
// 此端点受 AuthMiddleware 保护。
func ListTokensHandler(c *gin.Context) {
	Log.Debug("ListTokensHandler: 收到获取 Token 列表请求。")
	c.JSON(http.StatusOK, TokenMgr.TokenViews())
}

// UpdateTokenRequest 定义了更新 token 元数据的请求体结构。
// Name 与 Enabled 用指针区分 "未提供" 和 "设置为零值"。
type UpdateTokenRequest struct {
	Token   string  `json:"token" binding:"required"`
	Name    *string `json:"name"`
	Enabled *bool   `json:"enabled"`
}

// UpdateTokenHandler 处理 `/admin/tokens` PUT 请求，更新名称或启用状态。
// 重新启用被认证失败禁用的 token 也走这里。此端点受 AuthMiddleware 保护。
func UpdateTokenHandler(c *gin.Context) {
	var req UpdateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("UpdateTokenHandler: 无效的更新请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	if !TokenMgr.UpdateToken(req.Token, req.Name, req.Enabled) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "未找到该 Token。", Type: "token_not_found"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token 更新成功。"})
}

// DeleteTokenRequest 定义了删除单个 token 的请求体结构。
type DeleteTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// DeleteTokenHandler 处理 `/admin/tokens` DELETE 请求。
// 此端点受 AuthMiddleware 保护。
func DeleteTokenHandler(c *gin.Context) {
	var req DeleteTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("DeleteTokenHandler: 无效的删除请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	if !TokenMgr.DeleteToken(req.Token) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "未找到该 Token。", Type: "token_not_found"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token 已删除。"})
}

// DeleteTokensBatchRequest 定义了批量删除 token 的请求体结构。
type DeleteTokensBatchRequest struct {
	Tokens []string `json:"tokens" binding:"required"`
}

// DeleteTokensBatchHandler 处理 `/admin/tokens/batch` DELETE 请求。
// 返回实际删除的数量；不在池中的条目静默跳过。此端点受 AuthMiddleware 保护。
func DeleteTokensBatchHandler(c *gin.Context) {
	var req DeleteTokensBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("DeleteTokensBatchHandler: 无效的批量删除请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	deleted := TokenMgr.DeleteTokensBatch(req.Tokens)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// TokenActionRequest 针对单个 token 的操作请求（清除冷却、诊断测试）。
type TokenActionRequest struct {
	Token string `json:"token" binding:"required"`
}

// ClearCooldownHandler 处理 `/admin/tokens/clear-cooldown` POST 请求。
// 清除冷却截止时间与连续失败计数；不恢复被禁用的 token。
// 此端点受 AuthMiddleware 保护。
func ClearCooldownHandler(c *gin.Context) {
	var req TokenActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("ClearCooldownHandler: 无效的请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	if !TokenMgr.ClearCooldown(req.Token) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "未找到该 Token。", Type: "token_not_found"}})
		return
	}
	Log.Infof("ClearCooldownHandler: 已清除 Token %s 的冷却。", utils.RedactToken(req.Token))
	c.JSON(http.StatusOK, gin.H{"message": "冷却已清除。"})
}

// TestTokenHandler 处理 `/admin/tokens/test` POST 请求。
// 同步探测额度与账号类型并返回诊断结果。此端点受 AuthMiddleware 保护。
func TestTokenHandler(c *gin.Context) {
	var req TokenActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("TestTokenHandler: 无效的请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	result, err := TokenMgr.TestToken(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, tokenmanager.ErrTokenNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: models.ErrorDetail{
				Message: "未找到该 Token。", Type: "token_not_found"}})
			return
		}
		Log.Errorf("TestTokenHandler: 测试 Token 失败: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "测试 Token 时发生内部错误。", Type: "internal_server_error"}})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshTokensHandler 处理 `/admin/tokens/refresh` POST 请求。
// 同步刷新全部 token 的额度与账号类型，调用会阻塞到刷新完成；
// 期间可通过 refresh-progress 端点观察进度。重复发起返回 409。
// 此端点受 AuthMiddleware 保护。
func RefreshTokensHandler(c *gin.Context) {
	Log.Info("RefreshTokensHandler: 收到批量刷新请求。")
	summary, err := TokenMgr.RefreshAll()
	if err != nil {
		if errors.Is(err, tokenmanager.ErrRefreshInProgress) {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: models.ErrorDetail{
				Message: "已有一个批量刷新正在进行中。", Type: "refresh_in_progress"}})
			return
		}
		Log.Errorf("RefreshTokensHandler: 批量刷新失败: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "批量刷新时发生内部错误。", Type: "internal_server_error"}})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RefreshProgressHandler 处理 `/admin/tokens/refresh-progress` GET 请求。
// 此端点受 AuthMiddleware 保护。
func RefreshProgressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, TokenMgr.Progress())
}

// TokenStatsHandler 处理 `/admin/tokens/stats` GET 请求，返回池的统计信息。
// 此端点受 AuthMiddleware 保护。
func TokenStatsHandler(c *gin.Context) {
	Log.Debug("TokenStatsHandler: 收到获取统计请求。")
	c.JSON(http.StatusOK, TokenMgr.Stats())
}

// ImportBrowserTokensHandler 处理 `/admin/tokens/import-browser` POST 请求。
// 扫描本机浏览器的 cookie 存储，把 grok.com 的 sso cookie 批量导入池中。
// 只在与浏览器同机部署时有意义。此端点受 AuthMiddleware 保护。
func ImportBrowserTokensHandler(c *gin.Context) {
	Log.Info("ImportBrowserTokensHandler: 开始扫描本机浏览器 cookie。")
	tokens := cookieimport.CollectSSOTokens(c.Request.Context(), Log)
	if len(tokens) == 0 {
		c.JSON(http.StatusOK, gin.H{"found": 0, "added": 0, "duplicates": 0,
			"message": "未在本机浏览器中找到 grok.com 的 sso cookie。"})
		return
	}

	result := TokenMgr.AddTokensBatch(tokens, "browser", true)
	c.JSON(http.StatusOK, gin.H{
		"found":      len(tokens),
		"added":      result.Added,
		"duplicates": result.Duplicates,
	})
}

// AppStatusHandler 处理 `/admin/app-status` GET 请求。
// 返回应用程序的各种运行时状态和配置信息 (models.AppStatusInfo)。
// 此端点受 AuthMiddleware 保护。
func AppStatusHandler(c *gin.Context) {
	Log.Debug("AppStatusHandler: 收到获取应用状态请求。")
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var gcStats debug.GCStats
	debug.ReadGCStats(&gcStats)

	lastGCTime := gcStats.LastGC
	if lastGCTime.IsZero() && memStats.LastGC != 0 {
		lastGCTime = time.Unix(0, int64(memStats.LastGC)) // memStats.LastGC 是 Unix 纳秒时间戳
	}

	stats := TokenMgr.Stats()
	settings := config.GetSettings()

	status := models.AppStatusInfo{
		StartTime:           AppStartTime,
		Uptime:              time.Since(AppStartTime).Round(time.Second).String(),
		GoVersion:           runtime.Version(),
		NumGoroutines:       runtime.NumGoroutine(),
		MemAllocatedMB:      float64(memStats.Alloc) / 1024 / 1024,
		MemTotalAllocatedMB: float64(memStats.TotalAlloc) / 1024 / 1024,
		MemSysMB:            float64(memStats.Sys) / 1024 / 1024,
		NumGC:               memStats.NumGC,
		LastGC:              lastGCTime,
		TokenTotal:          stats.TotalTokens,
		TokenEnabled:        stats.EnabledTokens,
		TokenInCooldown:     stats.InCooldown,
		StorageType:         settings.StorageType,
		ProxyConfigured:     settings.ProxyURL != "",
		RefreshWorkers:      settings.RefreshWorkers,
		Port:                settings.Port,
		LogLevel:            settings.LogLevel,
		GinMode:             settings.GinMode,
		AppAPIKeyConfigured: settings.AppAPIKey != "",
		// AdminPassword 已配置且不是不安全的默认值时才视为已配置，
		// 帮助管理员了解密码配置的安全性。
		AdminPasswordConfigured: settings.AdminPassword != "" && settings.AdminPassword != config.DefaultAdminPassword,
	}
	c.JSON(http.StatusOK, status)
}
