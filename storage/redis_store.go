package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/XingLingQAQ/grok2api-new/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// redisKeyPrefix 所有文档键的前缀，避免与同实例上的其他应用冲突。
const redisKeyPrefix = "grok2api:doc:"

// RedisStore 基于 Redis 键值存储实现 Store 接口。
// 每个文档对应一个 string 键，内容为完整 JSON，适合多实例共享池状态的部署。
type RedisStore struct {
	client *goredis.Client
	log    *logrus.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 按配置连接 Redis 并验证连通性。
func NewRedisStore(log *logrus.Logger) (*RedisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.AppSettings.RedisAddr,
		Password: config.AppSettings.RedisPassword,
		DB:       config.AppSettings.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorf("连接 Redis (%s) 失败: %v", config.AppSettings.RedisAddr, err)
		_ = client.Close()
		return nil, err
	}

	log.Infof("Redis 连接成功: %s (db=%d)", config.AppSettings.RedisAddr, config.AppSettings.RedisDB)
	return &RedisStore{client: client, log: log}, nil
}

// LoadJSON 读取名为 name 的文档并反序列化。键不存在时返回 (false, nil)。
func (s *RedisStore) LoadJSON(ctx context.Context, name string, out any) (bool, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, err
	}
	return true, nil
}

// SaveJSON 序列化并整篇覆盖名为 name 的文档。文档不设置过期时间。
func (s *RedisStore) SaveJSON(ctx context.Context, name string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+name, payload, 0).Err(); err != nil {
		return err
	}
	s.log.Debugf("文档 %s 已保存到 Redis (%d 字节)。", name, len(payload))
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
