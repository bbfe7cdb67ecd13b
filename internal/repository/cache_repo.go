package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"accountanalytics/internal/model"

	"github.com/go-redis/redis/v8"
)

const cacheKeyPrefix = "analytics:account:"

// CacheRepository 聚合状态的读侧缓存（Redis）
// 缓存只是权威库最近一次成功落库快照的视图，可能短暂落后，绝不超前；
// 序列化走 JSON 适配器，和 MongoDB 侧的 Decimal128 适配器互相独立
type CacheRepository struct {
	client *redis.Client
	ttl    time.Duration // 0 表示不过期
}

func NewCacheRepository(client *redis.Client, ttlSeconds int) *CacheRepository {
	return &CacheRepository{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

func cacheKey(accountID string) string {
	return cacheKeyPrefix + accountID
}

// Get 点查缓存，未命中返回 (nil, nil)
func (r *CacheRepository) Get(ctx context.Context, accountID string) (*model.AccountAnalytics, error) {
	data, err := r.client.Get(ctx, cacheKey(accountID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("读取缓存失败: %w", err)
	}

	var a model.AccountAnalytics
	if err := json.Unmarshal(data, &a); err != nil {
		// 缓存值损坏按未命中处理，下一次成功更新会覆盖
		return nil, nil
	}
	return &a, nil
}

// Set 写入缓存
func (r *CacheRepository) Set(ctx context.Context, a *model.AccountAnalytics) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("缓存序列化失败: %w", err)
	}

	if err := r.client.Set(ctx, cacheKey(a.AccountID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	return nil
}

// Delete 删除缓存
func (r *CacheRepository) Delete(ctx context.Context, accountID string) error {
	if err := r.client.Del(ctx, cacheKey(accountID)).Err(); err != nil {
		return fmt.Errorf("删除缓存失败: %w", err)
	}
	return nil
}
