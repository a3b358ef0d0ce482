package storage

import (
	"context"
	"fmt"

	"github.com/XingLingQAQ/grok2api-new/config"

	"github.com/sirupsen/logrus"
)

// Store 持久化网关：按逻辑名称存取 JSON 文档，保存为整篇替换。
// token 池把全部状态编码为单个文档写入，不做行级更新，
// 因此任何能存放字符串的后端都可以实现该接口。
type Store interface {
	// LoadJSON 读取名为 name 的文档并反序列化到 out。
	// 文档不存在时返回 (false, nil)，out 保持不变。
	LoadJSON(ctx context.Context, name string, out any) (bool, error)
	// SaveJSON 序列化 doc 并整篇覆盖名为 name 的文档。
	SaveJSON(ctx context.Context, name string, doc any) error
	// Close 释放后端连接。
	Close() error
}

// NewStore 根据配置选择持久化后端。
// sqlite / mysql 走 GORM 文档表，redis 走键值存储。
func NewStore(logger *logrus.Logger) (Store, error) {
	storageType := config.AppSettings.StorageType
	switch storageType {
	case "sqlite", "mysql":
		db, err := InitDB(logger)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db, logger), nil
	case "redis":
		return NewRedisStore(logger)
	default:
		return nil, fmt.Errorf("不支持的持久化后端类型: %s", storageType)
	}
}
