// handlers/model_handlers.go
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/XingLingQAQ/grok2api-new/models"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// buildModelEntry 将模型映射表中的一项转换为 OpenAI 兼容的模型对象。
// Created 与权限对象的时间戳统一使用调用方传入的时间，保证同一次响应内一致。
func buildModelEntry(spec models.GrokModelSpec, createdAt int64) models.ModelData {
	// 为每个模型创建默认的权限信息（内容固定，仅为兼容客户端）。
	permissionID := fmt.Sprintf("modelperm-%s-%d", strings.ReplaceAll(spec.ID, "/", "-"), createdAt)
	permission := models.ModelPermission{
		ID: permissionID, Object: "model_permission", Created: createdAt,
		AllowCreateEngine: false, AllowSampling: true, AllowLogprobs: true,
		AllowSearchIndices: false, AllowView: true, AllowFineTuning: false,
		Organization: "*", IsBlocking: false, // 开放给所有组织，非阻塞。
	}

	return models.ModelData{
		ID: spec.ID, Object: "model", Created: createdAt, OwnedBy: "xai",
		Permissions: []models.ModelPermission{permission}, // 注意 OpenAI schema 是 "permission"，但内容是数组
		Root:        spec.ID, Parent: nil,
	}
}

// ListModelsHandler 处理 `/v1/models` GET 请求。
// 模型表是静态维护的（见 models.ModelRegistry），无需请求上游即可返回，
// 转换为 OpenAI 兼容的格式后按注册顺序输出。
func ListModelsHandler(c *gin.Context) {
	Log.Debug("ListModelsHandler: 收到 /v1/models 请求")
	currentTime := time.Now().Unix() // 获取当前 Unix 时间戳，用于填充 'Created' 字段。

	resultData := lo.Map(models.ModelRegistry, func(spec models.GrokModelSpec, _ int) models.ModelData {
		return buildModelEntry(spec, currentTime)
	})

	c.JSON(http.StatusOK, models.ListModelsResponse{
		Object: "list", // 符合 OpenAI 规范
		Data:   resultData,
	})
}

// GetModelHandler 处理 `/v1/models/:id` GET 请求，返回单个模型对象。
// 支持标准模型 ID 与别名（别名命中时返回别名指向的标准项），未知模型返回 404。
func GetModelHandler(c *gin.Context) {
	modelID := c.Param("id")

	spec, ok := models.LookupModel(modelID)
	if !ok {
		Log.Debugf("GetModelHandler: 未知模型 ID: %s", modelID)
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: models.ErrorDetail{
			Message: fmt.Sprintf("模型 '%s' 不存在。", modelID),
			Type:    "invalid_request_error",
			Code:    "model_not_found",
			Param:   "model",
		}})
		return
	}

	c.JSON(http.StatusOK, buildModelEntry(spec, time.Now().Unix()))
}
