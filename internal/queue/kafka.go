package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/metrics"

	"github.com/segmentio/kafka-go"
)

// 死信消息头
const (
	HeaderMessageType       = "type"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorMessage      = "x-error-message"
)

// KafkaPublisher Kafka 发布端，按模板 ID 分区
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher 创建 Kafka 发布端
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka config is nil")
	}
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = constants.KafkaTopicCouponIssue
	}
	return &KafkaPublisher{writer: newKafkaWriter(brokers, topic)}, nil
}

// Driver 驱动名称
func (p *KafkaPublisher) Driver() string {
	return constants.QueueDriverKafka
}

// PublishIssuance 写入发放消息，等待全部副本确认
func (p *KafkaPublisher) PublishIssuance(ctx context.Context, msg IssuanceMessage) error {
	if p == nil || p.writer == nil {
		return ErrQueueDisabled
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(msg.TemplateID), 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderMessageType, Value: []byte(TaskCouponIssue)},
		},
	})
	if err != nil {
		metrics.PublishFailures.WithLabelValues(constants.QueueDriverKafka).Inc()
		return fmt.Errorf("write coupon issue message failed: %w", err)
	}
	return nil
}

// Close 关闭写入端
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NewKafkaReader 创建消费组读取端
func NewKafkaReader(cfg *config.KafkaConfig, topic, groupID string) (*kafka.Reader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka config is nil")
	}
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" || strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("kafka topic and group id are required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}), nil
}

// NewKafkaDeadLetterWriter 创建死信主题写入端
func NewKafkaDeadLetterWriter(cfg *config.KafkaConfig) (*kafka.Writer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka config is nil")
	}
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.DeadLetterTopic)
	if topic == "" {
		topic = constants.KafkaTopicCouponIssueDeadLetter
	}
	return newKafkaWriter(brokers, topic), nil
}

// BuildDeadLetterMessage 构造死信消息，保留原始键值并附带来源与错误
func BuildDeadLetterMessage(msg kafka.Message, cause error) kafka.Message {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	for _, h := range msg.Headers {
		if isDeadLetterHeader(h.Key) {
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderErrorMessage, Value: []byte(reason)},
	)
	return kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// HeaderValue 读取消息头
func HeaderValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// IsPermanent 判断是否为不可重试的消息错误
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidIssuanceMessage)
}

func isDeadLetterHeader(key string) bool {
	switch key {
	case HeaderOriginalTopic, HeaderOriginalPartition, HeaderOriginalOffset, HeaderErrorMessage:
		return true
	}
	return false
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

func normalizeBrokers(brokers []string) []string {
	result := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		for _, part := range strings.Split(broker, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
