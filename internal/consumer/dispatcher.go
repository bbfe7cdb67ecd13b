package consumer

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/model"
	"accountanalytics/internal/service"

	"github.com/IBM/sarama"
)

// 观测用：事件从投递到开始处理的延迟超过该值时记日志
const deliveryLagWarn = 30 * time.Second

// task 一次待处理的事件及其位点信息
type task struct {
	session sarama.ConsumerGroupSession
	msg     *sarama.ConsumerMessage
	event   *model.AccountEvent
}

// Dispatcher 通道派发器
// accountId 经 FNV 哈希固定映射到一条通道，保证单账户顺序、跨账户并发；
// 通道数即对权威库的 I/O 并发上限
type Dispatcher struct {
	coordinator *service.StoreCoordinator
	lanes       []*lane
	wg          sync.WaitGroup
}

func NewDispatcher(coordinator *service.StoreCoordinator, cfg *config.ConsumerConfig) *Dispatcher {
	n := cfg.Lanes
	if n <= 0 {
		n = 1
	}
	buffer := cfg.LaneBuffer
	if buffer <= 0 {
		buffer = 1
	}

	d := &Dispatcher{
		coordinator: coordinator,
		lanes:       make([]*lane, n),
	}

	for i := 0; i < n; i++ {
		l := &lane{
			id:          i,
			coordinator: coordinator,
			tasks:       make(chan task, buffer),
			halted:      make(chan struct{}),
		}
		d.lanes[i] = l
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			l.run()
		}()
	}

	return d
}

// Dispatch 按账户哈希派发事件
// 目标通道已停机时跳过该事件且不确认，等待传输层重投（届时通道应已恢复）
func (d *Dispatcher) Dispatch(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage, ev *model.AccountEvent) {
	l := d.lanes[laneIndex(ev.AccountID, len(d.lanes))]

	// 先单独检查停机标记：停机后缓冲区可能仍有空位，
	// 两个 case 同时就绪时 select 随机选择，会把事件塞进死通道
	select {
	case <-l.halted:
		log.Printf("[Dispatcher] 通道已停机，事件不确认: lane=%d accountID=%s", l.id, ev.AccountID)
		return
	default:
	}

	select {
	case <-l.halted:
		log.Printf("[Dispatcher] 通道已停机，事件不确认: lane=%d accountID=%s", l.id, ev.AccountID)
	case l.tasks <- task{session: session, msg: msg, event: ev}:
	}
}

// Close 关闭所有通道并等待在途任务处理完毕
func (d *Dispatcher) Close() {
	for _, l := range d.lanes {
		close(l.tasks)
	}
	d.wg.Wait()
	log.Println("[Dispatcher] 所有通道已退出")
}

// laneIndex accountId 到通道的稳定映射
func laneIndex(accountID string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	return int(h.Sum32() % uint32(lanes))
}

// ============================================================================
// 处理通道
// ============================================================================

// lane 单条顺序处理通道
// 通道内事件严格串行：读库、折叠、落库、刷缓存四步做完才取下一个事件，
// 处理期间该账户的聚合状态由本通道独占
type lane struct {
	id          int
	coordinator *service.StoreCoordinator
	tasks       chan task
	halted      chan struct{}
}

func (l *lane) run() {
	log.Printf("[Lane-%d] 通道启动", l.id)
	defer log.Printf("[Lane-%d] 通道退出", l.id)

	for t := range l.tasks {
		if !t.event.ReceivedAt.IsZero() {
			if lag := time.Since(t.event.ReceivedAt); lag > deliveryLagWarn {
				log.Printf("[Lane-%d] 投递延迟偏高: accountID=%s lag=%v", l.id, t.event.AccountID, lag)
			}
		}

		err := l.coordinator.ProcessEvent(context.Background(), t.event)

		switch {
		case err == nil:
			t.session.MarkMessage(t.msg, "")

		case model.IsValidation(err):
			// 内容非法，重投无意义，确认并丢弃
			log.Printf("[Lane-%d] 丢弃校验失败事件: accountID=%s err=%v", l.id, t.event.AccountID, err)
			t.session.MarkMessage(t.msg, "")

		case model.IsConsistency(err):
			// 存储中的状态已损坏，本通道停机告警，其他通道继续工作
			log.Printf("[Lane-%d] 【告警】一致性校验失败，通道停机: accountID=%s err=%v",
				l.id, t.event.AccountID, err)
			close(l.halted)
			return

		default:
			// 瞬时故障重试耗尽：不确认位点，传输层稍后重投
			log.Printf("[Lane-%d] 处理失败，等待重投: accountID=%s key=%s err=%v",
				l.id, t.event.AccountID, t.event.IdempotencyKey, err)
		}
	}
}
