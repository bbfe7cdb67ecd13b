package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"accountanalytics/internal/infrastructure/lock"
	"accountanalytics/internal/model"
	"accountanalytics/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// QueryService 读侧查询服务
// 点查优先走缓存，未命中回源权威库并回填；范围/条件查询只走权威库的索引
type QueryService struct {
	repo        *repository.AnalyticsRepository
	cache       *repository.CacheRepository
	redisClient *redis.Client
}

func NewQueryService(repo *repository.AnalyticsRepository, cacheRepo *repository.CacheRepository, redisClient *redis.Client) *QueryService {
	return &QueryService{
		repo:        repo,
		cache:       cacheRepo,
		redisClient: redisClient,
	}
}

// GetByAccountID 按账户点查
// 缓存未命中时回源 MongoDB，命中后尽力回填缓存；账户不存在返回 (nil, nil)
func (s *QueryService) GetByAccountID(ctx context.Context, accountID string) (*model.AccountAnalytics, error) {
	cached, err := s.cache.Get(ctx, accountID)
	if err != nil {
		// 缓存故障降级为回源，不影响读取
		log.Printf("[QueryService] 读缓存失败(降级回源): accountID=%s err=%v", accountID, err)
	}
	if cached != nil {
		return cached, nil
	}

	a, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("查询聚合状态失败: %w", err)
	}
	if a == nil {
		return nil, nil
	}

	if err := s.cache.Set(ctx, a); err != nil {
		log.Printf("[QueryService] 回填缓存失败(忽略): accountID=%s err=%v", accountID, err)
	}

	return a, nil
}

// ListByBalanceRange 余额范围查询
func (s *QueryService) ListByBalanceRange(ctx context.Context, min, max decimal.Decimal, limit int64) ([]*model.AccountAnalytics, error) {
	return s.repo.ListByBalanceRange(ctx, min, max, limit)
}

// ListByVolatilityRange 波动率范围查询
func (s *QueryService) ListByVolatilityRange(ctx context.Context, min, max decimal.Decimal, limit int64) ([]*model.AccountAnalytics, error) {
	return s.repo.ListByVolatilityRange(ctx, min, max, limit)
}

// ListByPattern 按消费模式查询
func (s *QueryService) ListByPattern(ctx context.Context, pattern string, minBalance *decimal.Decimal, limit int64) ([]*model.AccountAnalytics, error) {
	if !model.IsValidPattern(pattern) {
		return nil, model.NewValidationError("未知的消费模式: " + pattern)
	}
	return s.repo.ListByPattern(ctx, pattern, minBalance, limit)
}

// ListByCategory 按主要消费类别查询
func (s *QueryService) ListByCategory(ctx context.Context, category string, limit int64) ([]*model.AccountAnalytics, error) {
	return s.repo.ListByCategory(ctx, category, limit)
}

// ListUpdatedSince 查询某时间点之后更新过的账户
func (s *QueryService) ListUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.AccountAnalytics, error) {
	return s.repo.ListUpdatedSince(ctx, since, limit)
}

// RepairCache 强制用权威库的快照重灌缓存（运维修复入口）
// 加账户级分布式锁，避免与正在处理该账户的通道互相覆盖
func (s *QueryService) RepairCache(ctx context.Context, accountID string) error {
	repairLock := lock.NewRepairLock(s.redisClient, accountID)
	if err := repairLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("获取修复锁失败: %w", err)
	}
	defer repairLock.Unlock(ctx)

	a, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("读取权威库失败: %w", err)
	}

	// 权威库没有该账户时清掉缓存残留
	if a == nil {
		return s.cache.Delete(ctx, accountID)
	}

	if err := s.cache.Set(ctx, a); err != nil {
		return fmt.Errorf("重灌缓存失败: %w", err)
	}

	log.Printf("[QueryService] 缓存修复完成: accountID=%s", accountID)
	return nil
}
