package worker

import (
	"context"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"
	"github.com/Do1K/b2b-point-service/internal/queue"

	"github.com/segmentio/kafka-go"
)

const (
	defaultKafkaMaxAttempts  = 3
	defaultKafkaRetryBackoff = 200 * time.Millisecond
	kafkaFetchErrorBackoff   = time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type issueBuffer interface {
	Append(ctx context.Context, payload []byte) error
}

// KafkaIssueConsumer 消费发放主题，写入待入库缓冲区；失败消息转入死信主题
type KafkaIssueConsumer struct {
	reader      messageReader
	deadLetters messageWriter
	buffer      issueBuffer
	maxAttempts int
	backoff     time.Duration
}

// NewKafkaIssueConsumer 创建发放消费者
func NewKafkaIssueConsumer(reader messageReader, deadLetters messageWriter, buffer issueBuffer, maxAttempts int) *KafkaIssueConsumer {
	if maxAttempts <= 0 {
		maxAttempts = defaultKafkaMaxAttempts
	}
	return &KafkaIssueConsumer{
		reader:      reader,
		deadLetters: deadLetters,
		buffer:      buffer,
		maxAttempts: maxAttempts,
		backoff:     defaultKafkaRetryBackoff,
	}
}

// Run 循环拉取消息，处理完成（入缓冲或进入死信）后才提交位点
func (c *KafkaIssueConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnw("worker_kafka_fetch_failed", "error", err)
			if sleepContext(ctx, kafkaFetchErrorBackoff) != nil {
				return nil
			}
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			// 死信也未写成功：不提交，重启后重新投递
			logger.Errorw("worker_kafka_message_unresolved",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Warnw("worker_kafka_commit_failed",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close 关闭读写端
func (c *KafkaIssueConsumer) Close() error {
	var firstErr error
	if c.reader != nil {
		firstErr = c.reader.Close()
	}
	if c.deadLetters != nil {
		if err := c.deadLetters.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *KafkaIssueConsumer) handle(ctx context.Context, msg kafka.Message) error {
	issued, err := queue.DecodeIssuanceMessage(msg.Value)
	if err != nil {
		logger.Errorw("worker_kafka_coupon_issue_decode_failed",
			"offset", msg.Offset,
			"payload", string(msg.Value),
			"error", err,
		)
		reason := "decode_failed"
		if queue.IsPermanent(err) {
			reason = "malformed"
		}
		return c.deadLetter(ctx, msg, err, reason)
	}

	var appendErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		appendErr = c.buffer.Append(ctx, msg.Value)
		if appendErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warnw("worker_kafka_coupon_issue_append_failed",
			"template_id", issued.TemplateID,
			"user_id", issued.UserID,
			"attempt", attempt,
			"error", appendErr,
		)
		if attempt < c.maxAttempts {
			if err := sleepContext(ctx, c.backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}
	return c.deadLetter(ctx, msg, appendErr, "retries_exhausted")
}

// deadLetter 写入死信主题，失败时退避重试直到成功或停止
func (c *KafkaIssueConsumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, reason string) error {
	dl := queue.BuildDeadLetterMessage(msg, cause)
	for attempt := 1; ; attempt++ {
		err := c.deadLetters.WriteMessages(ctx, dl)
		if err == nil {
			metrics.DeadLetters.WithLabelValues(constants.QueueDriverKafka, reason).Inc()
			return nil
		}
		logger.Warnw("worker_kafka_dead_letter_write_failed",
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		if err := sleepContext(ctx, c.backoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
}

// KafkaDeadLetterLogger 消费死信主题并记录
type KafkaDeadLetterLogger struct {
	reader messageReader
}

// NewKafkaDeadLetterLogger 创建死信记录器
func NewKafkaDeadLetterLogger(reader messageReader) *KafkaDeadLetterLogger {
	return &KafkaDeadLetterLogger{reader: reader}
}

// Run 循环读取死信
func (l *KafkaDeadLetterLogger) Run(ctx context.Context) error {
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if sleepContext(ctx, kafkaFetchErrorBackoff) != nil {
				return nil
			}
			continue
		}
		logDeadLetter(msg)
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			logger.Warnw("worker_kafka_dead_letter_commit_failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close 关闭读取端
func (l *KafkaDeadLetterLogger) Close() error {
	if l.reader == nil {
		return nil
	}
	return l.reader.Close()
}

func logDeadLetter(msg kafka.Message) {
	logger.Errorw("coupon_issue_dead_letter_received",
		"original_topic", queue.HeaderValue(msg, queue.HeaderOriginalTopic),
		"original_partition", queue.HeaderValue(msg, queue.HeaderOriginalPartition),
		"original_offset", queue.HeaderValue(msg, queue.HeaderOriginalOffset),
		"error_message", queue.HeaderValue(msg, queue.HeaderErrorMessage),
		"key", string(msg.Key),
		"value", string(msg.Value),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
