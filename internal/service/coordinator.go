package service

import (
	"context"
	"log"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/model"
	"accountanalytics/pkg/idgen"
)

// DurableStore 权威存储（MongoDB）
type DurableStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*model.AccountAnalytics, error)
	Upsert(ctx context.Context, a *model.AccountAnalytics) error
}

// CacheStore 读侧缓存（Redis）
type CacheStore interface {
	Get(ctx context.Context, accountID string) (*model.AccountAnalytics, error)
	Set(ctx context.Context, a *model.AccountAnalytics) error
	Delete(ctx context.Context, accountID string) error
}

// Notifier 重算完成通知（可选，尽力投递）
type Notifier interface {
	PublishRecalculated(notice *model.RecalculatedNotice) error
}

// ============================================================================
// 存储协调器
// ============================================================================
//
// 单个事件的处理流程（任一步失败则按错误分类处置）：
//
//   校验 -> 去重? -> 读权威库 -> 一致性校验 -> 折叠 -> 分类
//        -> 写权威库(带重试) -> 刷缓存(尽力) -> 发通知(尽力)
//
// 【重要】双存储一致性规则：
//  1. 计算的输入永远来自权威库，缓存只作为输出
//  2. 权威库写成功之前绝不碰缓存 —— 缓存可以落后，绝不能超前
//  3. 权威库写成功后，刷缓存失败不算失败，留待下次更新或修复任务补齐
// ============================================================================

// StoreCoordinator 存储协调器
type StoreCoordinator struct {
	store      DurableStore
	cache      CacheStore
	notifier   Notifier // 可为 nil
	aggregator *Aggregator
	classifier *Classifier
	cfg        *config.Config
}

func NewStoreCoordinator(store DurableStore, cache CacheStore, notifier Notifier, cfg *config.Config) *StoreCoordinator {
	return &StoreCoordinator{
		store:      store,
		cache:      cache,
		notifier:   notifier,
		aggregator: NewAggregator(),
		classifier: NewClassifier(&cfg.Analytics),
		cfg:        cfg,
	}
}

// ProcessEvent 处理单个事件
// 返回 nil 表示可以向传输层确认（包括重复事件的静默确认）；
// 返回瞬时错误表示不确认，等待传输层重投；
// 返回一致性错误表示该账户的通道应停机告警
func (c *StoreCoordinator) ProcessEvent(ctx context.Context, ev *model.AccountEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	// 读权威库，不读缓存 —— 缓存永远不作为计算输入
	var state *model.AccountAnalytics
	err := c.withRetry(ctx, "load", func() error {
		var loadErr error
		state, loadErr = c.store.GetByAccountID(ctx, ev.AccountID)
		return loadErr
	})
	if err != nil {
		return model.NewTransientError("load", err)
	}

	// 首个事件惰性创建空状态
	if state == nil {
		state = model.NewAccountAnalytics(ev.AccountID)
	}

	// 至少一次投递的重复在这里吸收：已处理过的幂等键直接静默确认
	if state.HasProcessed(ev.IdempotencyKey) {
		log.Printf("[Coordinator] 重复事件，跳过: accountID=%s key=%s", ev.AccountID, ev.IdempotencyKey)
		return nil
	}

	// 折叠之前校验已加载状态，损坏数据绝不参与计算
	if err := state.Validate(); err != nil {
		return err
	}

	next, err := c.aggregator.Fold(state, ev)
	if err != nil {
		return err
	}

	score, pattern := c.classifier.Classify(next)
	now := time.Now().UTC()
	next.VolatilityScore = score
	next.SpendingPattern = pattern
	next.CalculatedAt = now
	next.LastUpdated = now
	next.RecordProcessed(ev.IdempotencyKey, c.cfg.Analytics.DedupWindow)

	// 权威库必须先写成功，失败则整次更新失败且缓存保持原样
	if err := c.withRetry(ctx, "upsert", func() error {
		return c.store.Upsert(ctx, next)
	}); err != nil {
		return model.NewTransientError("upsert", err)
	}

	// 刷缓存失败不影响本次更新的结果，权威库已是最新
	if err := c.cache.Set(ctx, next); err != nil {
		log.Printf("[Coordinator] 刷新缓存失败(忽略): accountID=%s err=%v", ev.AccountID, err)
	}

	c.notify(next)

	return nil
}

// notify 发送重算完成通知，仅尽力投递
func (c *StoreCoordinator) notify(a *model.AccountAnalytics) {
	if c.notifier == nil {
		return
	}

	notice := &model.RecalculatedNotice{
		NoticeNo:        idgen.GenerateNoticeNo(),
		AccountID:       a.AccountID,
		SpendingPattern: a.SpendingPattern,
		VolatilityScore: a.VolatilityScore,
		LastUpdated:     a.LastUpdated,
	}
	if err := c.notifier.PublishRecalculated(notice); err != nil {
		log.Printf("[Coordinator] 发送通知失败(忽略): accountID=%s err=%v", a.AccountID, err)
	}
}

// withRetry 指数退避重试
// 只覆盖存储的瞬时故障，重试期间上下文取消则立即放弃
func (c *StoreCoordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetry := c.cfg.Consumer.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 1
	}
	baseDelay := time.Duration(c.cfg.Consumer.BaseDelayMs) * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetry; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			log.Printf("[Coordinator] %s 第 %d 次重试, 等待 %v", op, attempt, delay)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	return err
}
