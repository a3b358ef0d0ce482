package middleware

import (
	"net/http"
	"strings"

	"github.com/XingLingQAQ/grok2api-new/config"
	"github.com/XingLingQAQ/grok2api-new/models"
	"github.com/XingLingQAQ/grok2api-new/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Log 是一个包级变量，用于日志记录。它应该由外部（例如 main.go）设置。
var Log *logrus.Logger

// VerifyAPIKey 是一个 Gin 中间件，用于验证访问 `/v1/*` API 端点的客户端请求。
// 它检查 Authorization 头部是否包含有效的 Bearer Token，该 Token 必须与配置中的
// `AppAPIKey` 匹配。AppAPIKey 未配置时 main.go 不会注册此中间件；
// 意外执行到这里视为配置错误，直接拒绝。
func VerifyAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.AppSettings.AppAPIKey == "" {
			Log.Error("VerifyAPIKey 中间件被调用，但 AppAPIKey 未配置。拒绝请求。")
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "服务配置错误，无法验证API密钥", Type: "server_error", Code: "config_error_app_api_key_missing"},
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			Log.Warn("VerifyAPIKey: 请求缺少 Authorization 头部。")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "需要提供 API 密钥才能访问此服务。", Type: "authentication_error", Code: "missing_api_key"},
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			Log.Warnf("VerifyAPIKey: Authorization 头部格式无效。收到: '%s'", authHeader)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "无效的授权方案或令牌缺失。请使用 'Bearer <token>' 格式。", Type: "authentication_error", Code: "invalid_auth_scheme"},
			})
			return
		}

		if parts[1] != config.AppSettings.AppAPIKey {
			// 日志里只留末尾几位，方便排查又不泄露整个密钥。
			Log.Warnf("VerifyAPIKey: 无效的服务 API 密钥。收到 token 后缀: %s", utils.SafeSuffix(parts[1]))
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "提供的 API 密钥无效。", Type: "authentication_error", Code: "invalid_api_key"},
			})
			return
		}

		Log.Debug("VerifyAPIKey: 服务 API 密钥验证成功。")
		c.Next()
	}
}
