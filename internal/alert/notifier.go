package alert

import (
	"context"
	"time"

	"copyflow/conf"
	"copyflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// 告警事件类型
const (
	EventDriftDetected      = "drift_detected"
	EventReconnectExhausted = "reconnect_exhausted"
)

// Event 投到告警主题的消息体
type Event struct {
	Type      string   `json:"type"`
	Account   string   `json:"account,omitempty"`
	User      string   `json:"user,omitempty"` // 被跟踪钱包地址
	Coins     []string `json:"coins,omitempty"`
	Failures  int      `json:"failures,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Notifier 告警出口。尽力投递：失败只记日志，调用方从不阻塞在告警上
type Notifier interface {
	DriftDetected(ctx context.Context, account string, coins []string)
	ReconnectExhausted(ctx context.Context, user string, failures int)
	Close()
}

type kafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier 写入单个告警主题，key按账户分区
func NewKafkaNotifier(cfg conf.KafkaConfig) Notifier {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.BrokerURL),
		Topic:    cfg.AlertTopic,
		Balancer: &kafka.LeastBytes{},
	}
	return &kafkaNotifier{writer: writer}
}

func (n *kafkaNotifier) DriftDetected(ctx context.Context, account string, coins []string) {
	n.publish(ctx, account, Event{
		Type:      EventDriftDetected,
		Account:   account,
		Coins:     coins,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (n *kafkaNotifier) ReconnectExhausted(ctx context.Context, user string, failures int) {
	n.publish(ctx, user, Event{
		Type:      EventReconnectExhausted,
		User:      user,
		Failures:  failures,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (n *kafkaNotifier) publish(ctx context.Context, key string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("marshal alert event: %v", err)
		return
	}

	// 告警不能拖住主流程，限定写入时间
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		logger.Error("publish alert failed",
			logger.Pair("type", ev.Type),
			logger.Pair("err", err.Error()))
	}
}

func (n *kafkaNotifier) Close() {
	if err := n.writer.Close(); err != nil {
		logger.Errorf("close alert writer: %v", err)
	}
}

// NopNotifier 未配置kafka时使用，事件只进日志
type NopNotifier struct{}

func (NopNotifier) DriftDetected(ctx context.Context, account string, coins []string) {
	logger.Info("drift detected",
		logger.Pair("account", account),
		logger.Pair("coins", coins))
}

func (NopNotifier) ReconnectExhausted(ctx context.Context, user string, failures int) {
	logger.Error("fill stream reconnect exhausted",
		logger.Pair("user", user),
		logger.Pair("failures", failures))
}

func (NopNotifier) Close() {}
