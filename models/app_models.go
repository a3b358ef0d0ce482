package models

import "time"

// ErrorDetail 错误详情结构，用于在 API 响应中提供统一的错误信息。
// 符合 OpenAI 错误对象的风格。
type ErrorDetail struct {
	Message string `json:"message"`         // 必需：可读的错误描述。
	Type    string `json:"type"`            // 必需：错误类型，例如 "api_error", "auth_error", "invalid_request_error"。
	Code    any    `json:"code,omitempty"`  // 可选：特定于错误的机器可读代码 (可以是数字状态码的字符串形式，或自定义错误代码如 "invalid_api_key")。
	Param   string `json:"param,omitempty"` // 可选：导致错误的参数名称 (如果错误与特定请求参数相关)。
}

// ErrorResponse 统一的错误响应结构，包装了 ErrorDetail。
// 符合 OpenAI 错误对象的风格。
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// AppStatusInfo 结构体用于 /admin/app-status 端点，提供应用的监控和配置状态。
type AppStatusInfo struct {
	StartTime               time.Time `json:"start_time"`                // 应用启动时间戳
	Uptime                  string    `json:"uptime"`                    // 应用已运行时间（人类可读格式）
	GoVersion               string    `json:"go_version"`                // 编译时使用的 Go 语言版本
	NumGoroutines           int       `json:"num_goroutines"`            // 当前活跃的 Goroutine 数量
	MemAllocatedMB          float64   `json:"mem_allocated_mb"`          // 当前分配的堆内存 (MB)
	MemTotalAllocatedMB     float64   `json:"mem_total_allocated_mb"`    // 自程序启动以来累计分配的堆内存 (MB)
	MemSysMB                float64   `json:"mem_sys_mb"`                // 程序从操作系统获取的总内存 (MB)
	NumGC                   uint32    `json:"num_gc"`                    // 已完成的垃圾回收周期数
	LastGC                  time.Time `json:"last_gc"`                   // 上次垃圾回收完成的时间戳
	TokenTotal              int       `json:"token_total"`               // SSO token 池总数
	TokenEnabled            int       `json:"token_enabled"`             // 启用状态的 token 数
	TokenInCooldown         int       `json:"token_in_cooldown"`         // 冷却中的 token 数
	StorageType             string    `json:"storage_type"`              // 持久化后端类型 (sqlite/mysql/redis)
	ProxyConfigured         bool      `json:"proxy_configured"`          // 是否配置了访问 grok.com 的代理
	RefreshWorkers          int       `json:"refresh_workers"`           // 后台额度刷新 worker 数量
	Port                    string    `json:"port"`                      // 应用监听的端口号
	LogLevel                string    `json:"log_level"`                 // 当前配置的日志级别
	GinMode                 string    `json:"gin_mode"`                  // 当前 Gin 框架的运行模式 (debug/release)
	AppAPIKeyConfigured     bool      `json:"app_api_key_configured"`    // /v1 服务密钥是否已配置
	AdminPasswordConfigured bool      `json:"admin_password_configured"` // 仪表盘登录密码是否已配置且不是默认密码 (用于提示安全性)
}
