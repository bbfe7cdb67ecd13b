package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/consumer"
	"accountanalytics/internal/handler"
	"accountanalytics/internal/infrastructure/cache"
	"accountanalytics/internal/infrastructure/database"
	"accountanalytics/internal/infrastructure/mq"
	"accountanalytics/internal/job"
	"accountanalytics/internal/repository"
	"accountanalytics/internal/service"
	"accountanalytics/pkg/idgen"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MongoDB
	db := database.InitMongo(&cfg.Mongo)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	consumerGroup := mq.NewConsumerGroup(&cfg.Kafka)
	defer consumerGroup.Close()

	// 组装仓储与服务
	analyticsRepo := repository.NewAnalyticsRepository(db, cfg.Mongo.Collection)
	cacheRepo := repository.NewCacheRepository(redisClient, cfg.Redis.TTLSeconds)

	var notifier service.Notifier
	if cfg.Consumer.NotifyEnable {
		notifier = mq.NewRecalculatedNotifier(cfg.Kafka.Topic.Recalculated)
	}

	coordinator := service.NewStoreCoordinator(analyticsRepo, cacheRepo, notifier, cfg)
	queryService := service.NewQueryService(analyticsRepo, cacheRepo, redisClient)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// 启动事件消费
	eventConsumer := consumer.NewConsumer(consumerGroup, coordinator, cfg)
	g.Go(func() error {
		err := eventConsumer.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// 启动缓存修复任务
	repairJob := job.NewCacheRepairJob(analyticsRepo, cacheRepo, cfg)
	g.Go(func() error {
		repairJob.Start(gctx)
		return nil
	})

	// 设置路由
	router := handler.SetupRouter(queryService)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止消费与后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	if err := g.Wait(); err != nil {
		log.Printf("后台任务退出异常: %v", err)
	}

	database.CloseMongo(shutdownCtx)

	log.Println("服务已关闭")
}
