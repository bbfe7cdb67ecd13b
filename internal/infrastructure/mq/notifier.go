package mq

import (
	"encoding/json"
	"fmt"

	"accountanalytics/internal/model"
)

// RecalculatedNotifier 重算完成通知发送器
// 通知只尽力投递，失败由调用方记日志，不影响主流程
type RecalculatedNotifier struct {
	topic string
}

func NewRecalculatedNotifier(topic string) *RecalculatedNotifier {
	return &RecalculatedNotifier{topic: topic}
}

func (n *RecalculatedNotifier) PublishRecalculated(notice *model.RecalculatedNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("通知序列化失败: %w", err)
	}

	// 以 accountId 作为消息 key，保证同账户的通知落在同一分区
	return SendMessage(n.topic, notice.AccountID, string(payload))
}
