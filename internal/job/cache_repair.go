package job

import (
	"context"
	"log"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/repository"
)

// CacheRepairJob 缓存修复任务
// 周期性扫描权威库中近期更新过的账户，发现缓存缺失或落后于权威库时重灌。
// 协调器刷缓存失败时只记日志不重试，留下的存量由这里兜底
type CacheRepairJob struct {
	repo      *repository.AnalyticsRepository
	cache     *repository.CacheRepository
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int64
	lookback  time.Duration
}

func NewCacheRepairJob(repo *repository.AnalyticsRepository, cache *repository.CacheRepository, cfg *config.Config) *CacheRepairJob {
	return &CacheRepairJob{
		repo:      repo,
		cache:     cache,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  time.Duration(cfg.Job.RepairIntervalSec) * time.Second,
		batchSize: int64(cfg.Job.RepairBatchSize),
		lookback:  time.Duration(cfg.Job.RepairLookbackSec) * time.Second,
	}
}

func (j *CacheRepairJob) Start(ctx context.Context) {
	log.Println("[CacheRepairJob] 缓存修复任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[CacheRepairJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[CacheRepairJob] 任务停止")
			return
		case <-ticker.C:
			j.repairStaleEntries(ctx)
		}
	}
}

func (j *CacheRepairJob) Stop() {
	close(j.stopCh)
}

func (j *CacheRepairJob) repairStaleEntries(ctx context.Context) {
	since := time.Now().Add(-j.lookback)

	accounts, err := j.repo.ListUpdatedSince(ctx, since, j.batchSize)
	if err != nil {
		log.Printf("[CacheRepairJob] 扫描权威库失败: %v", err)
		return
	}

	if len(accounts) == 0 {
		return
	}

	repaired := 0
	for _, a := range accounts {
		cached, err := j.cache.Get(ctx, a.AccountID)
		if err != nil {
			log.Printf("[CacheRepairJob] 读缓存失败: accountID=%s err=%v", a.AccountID, err)
			continue
		}

		// 缓存与权威库一致则跳过；缓存只可能落后，不可能超前
		if cached != nil && !cached.LastUpdated.Before(a.LastUpdated) {
			continue
		}

		if err := j.cache.Set(ctx, a); err != nil {
			log.Printf("[CacheRepairJob] 重灌缓存失败: accountID=%s err=%v", a.AccountID, err)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		log.Printf("[CacheRepairJob] 本次修复 %d 个落后的缓存条目", repaired)
	}
}
