package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/constants"
)

// Publisher 发放消息发布接口
type Publisher interface {
	PublishIssuance(ctx context.Context, msg IssuanceMessage) error
	Driver() string
	Close() error
}

// NewPublisher 按配置的驱动创建发布端
func NewPublisher(cfg *config.QueueConfig) (Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue config is nil")
	}
	switch NormalizeDriver(cfg.Driver) {
	case constants.QueueDriverKafka:
		return NewKafkaPublisher(&cfg.Kafka)
	default:
		return NewClient(cfg)
	}
}

// NormalizeDriver 归一化驱动名，未知值按 asynq 处理
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case constants.QueueDriverKafka:
		return constants.QueueDriverKafka
	default:
		return constants.QueueDriverAsynq
	}
}
