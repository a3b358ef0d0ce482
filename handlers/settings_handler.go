package handlers

import (
	"net/http"
	"strings"

	"github.com/XingLingQAQ/grok2api-new/config"
	"github.com/XingLingQAQ/grok2api-new/models"

	"github.com/gin-gonic/gin"
)

// GetSettingsHandler 处理 `/admin/settings` GET 请求，返回当前的可配置项。
func GetSettingsHandler(c *gin.Context) {
	currentSettings := config.GetSettings()
	// 返回一个安全的、仅包含可配置字段的结构体
	c.JSON(http.StatusOK, gin.H{
		"grok_base_url":           currentSettings.GrokBaseURL,
		"proxy_url":               currentSettings.ProxyURL,
		"request_timeout_seconds": int(currentSettings.RequestTimeout.Seconds()),
		"refresh_workers":         currentSettings.RefreshWorkers,
		"refresh_queue_size":      currentSettings.RefreshQueueSize,
		"storage_type":            currentSettings.StorageType,
		"log_level":               currentSettings.LogLevel,
		"app_api_key":             currentSettings.AppAPIKey,
		// 注意：出于安全考虑，不返回 AdminPassword
	})
}

// UpdateSettingsHandler 处理 `/admin/settings` POST 请求，用于热加载新配置。
// 探测超时、代理和 worker 数量等启动期组件的改动在重启后才会完全生效，
// config.UpdateSettings 会对这些字段逐一记录警告。
func UpdateSettingsHandler(c *gin.Context) {
	var req config.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Log.Warnf("UpdateSettingsHandler: 无效的设置更新请求体: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求数据无效: " + err.Error(), Type: "invalid_request_error"}})
		return
	}

	// 对输入值进行一些基本验证
	if req.LogLevel != nil {
		validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
		isValid := false
		for _, level := range validLevels {
			if *req.LogLevel == level {
				isValid = true
				break
			}
		}
		if !isValid {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
				Message: "无效的日志级别。有效值为: " + strings.Join(validLevels, ", "),
				Type:    "invalid_request_error", Param: "log_level"}})
			return
		}
	}
	if req.RequestTimeoutSeconds != nil && *req.RequestTimeoutSeconds < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "请求超时不能为负数。", Type: "invalid_request_error", Param: "request_timeout_seconds"}})
		return
	}
	if req.RefreshWorkers != nil && *req.RefreshWorkers < 1 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "刷新 worker 数量至少为 1。", Type: "invalid_request_error", Param: "refresh_workers"}})
		return
	}

	Log.Info("UpdateSettingsHandler: 收到配置热更新请求。")
	config.UpdateSettings(req)

	c.JSON(http.StatusOK, gin.H{"message": "配置已成功更新。部分设置可能需要重启服务才能完全生效。"})
}
