package consumer

import (
	"context"
	"log"

	"accountanalytics/internal/config"
	"accountanalytics/internal/model"
	"accountanalytics/internal/service"

	"github.com/IBM/sarama"
)

// ============================================================================
// 事件消费器
// ============================================================================
//
// 消费组从 Kafka 拉取事件信封，按 accountId 哈希派发到固定的处理通道：
// 同一账户的事件永远落在同一条通道内顺序处理，不同账户的事件并发处理。
//
// 确认语义：
//   处理成功 / 校验失败丢弃 / 重复事件  -> 确认位点
//   存储重试耗尽                       -> 不确认，等待传输层重投
//   一致性校验失败                     -> 该通道停机告警，不确认
// ============================================================================

// Consumer 事件消费器
type Consumer struct {
	group       sarama.ConsumerGroup
	coordinator *service.StoreCoordinator
	cfg         *config.Config
	dispatcher  *Dispatcher
}

func NewConsumer(group sarama.ConsumerGroup, coordinator *service.StoreCoordinator, cfg *config.Config) *Consumer {
	return &Consumer{
		group:       group,
		coordinator: coordinator,
		cfg:         cfg,
		dispatcher:  NewDispatcher(coordinator, &cfg.Consumer),
	}
}

// Start 启动消费循环，阻塞直到上下文取消
func (c *Consumer) Start(ctx context.Context) error {
	log.Println("[Consumer] 事件消费启动")

	// 消费组内部错误只记日志，rebalance 等由 sarama 自行处理
	go func() {
		for err := range c.group.Errors() {
			log.Printf("[Consumer] 消费组错误: %v", err)
		}
	}()

	topics := []string{c.cfg.Kafka.Topic.AccountEvents}
	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			log.Printf("[Consumer] 消费失败: %v", err)
		}
		if ctx.Err() != nil {
			log.Println("[Consumer] 收到停止信号，消费退出")
			c.dispatcher.Close()
			return ctx.Err()
		}
		// rebalance 后重新进入 Consume
	}
}

// Setup 实现 sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	log.Println("[Consumer] 消费组会话建立")
	return nil
}

// Cleanup 实现 sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	log.Println("[Consumer] 消费组会话结束")
	return nil
}

// ConsumeClaim 实现 sarama.ConsumerGroupHandler
// 信封在这里反序列化并校验，坏消息直接丢弃确认；合法消息派发到通道
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ev, err := model.ParseAccountEvent(msg.Value)
		if err != nil {
			// 坏消息重投也不会好，丢弃并确认
			log.Printf("[Consumer] 丢弃非法消息: partition=%d offset=%d err=%v",
				msg.Partition, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}

		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = msg.Timestamp
		}

		c.dispatcher.Dispatch(session, msg, ev)
	}
	return nil
}
