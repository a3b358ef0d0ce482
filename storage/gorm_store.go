package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormStore 基于 GORM 文档表实现 Store 接口，供 sqlite 和 mysql 后端共用。
type GormStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewGormStore 创建一个新的 GormStore 实例。
func NewGormStore(db *gorm.DB, log *logrus.Logger) *GormStore {
	return &GormStore{db: db, log: log}
}

// LoadJSON 读取名为 name 的文档并反序列化。文档不存在时返回 (false, nil)。
func (s *GormStore) LoadJSON(ctx context.Context, name string, out any) (bool, error) {
	var doc JSONDocument
	result := s.db.WithContext(ctx).Where("name = ?", name).First(&doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	if err := json.Unmarshal([]byte(doc.Content), out); err != nil {
		return false, err
	}
	return true, nil
}

// SaveJSON 序列化并整篇覆盖名为 name 的文档（存在则更新，不存在则创建）。
func (s *GormStore) SaveJSON(ctx context.Context, name string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	var row JSONDocument
	// Assign 保证已存在的行也会被新内容覆盖。
	result := s.db.WithContext(ctx).
		Where(JSONDocument{Name: name}).
		Assign(JSONDocument{Content: string(payload)}).
		FirstOrCreate(&row)
	if result.Error != nil {
		return result.Error
	}
	s.log.Debugf("文档 %s 已保存 (%d 字节)。", name, len(payload))
	return nil
}

// Close 关闭底层数据库连接。
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
