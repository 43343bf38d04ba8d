package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"
	"github.com/Do1K/b2b-point-service/internal/provider"
	"github.com/Do1K/b2b-point-service/internal/queue"

	"github.com/hibiken/asynq"
)

// ErrPendingBufferUnavailable 待入库缓冲区未初始化
var ErrPendingBufferUnavailable = errors.New("pending buffer unavailable")

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskCouponIssue, c.handleCouponIssue)
}

// handleCouponIssue 校验消息后追加到待入库缓冲区；入库由批处理完成
func (c *Consumer) handleCouponIssue(ctx context.Context, task *asynq.Task) error {
	if task == nil {
		return fmt.Errorf("coupon issue task is nil: %w", asynq.SkipRetry)
	}
	// 缓冲区不可用时返回错误，由 asynq 重试后归档，不能确认丢弃
	if c == nil || c.Container == nil || c.PendingBuffer == nil {
		logger.Errorw("worker_coupon_issue_buffer_unavailable", "payload", string(task.Payload()))
		return ErrPendingBufferUnavailable
	}
	msg, err := queue.DecodeIssuanceMessage(task.Payload())
	if err != nil {
		logger.Errorw("worker_coupon_issue_decode_failed",
			"payload", string(task.Payload()),
			"error", err,
		)
		if queue.IsPermanent(err) {
			return fmt.Errorf("decode coupon issue task: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if err := c.PendingBuffer.Append(ctx, task.Payload()); err != nil {
		logger.Warnw("worker_coupon_issue_append_failed",
			"template_id", msg.TemplateID,
			"user_id", msg.UserID,
			"error", err,
		)
		return err
	}
	return nil
}

// handleTaskError 记录失败任务，不再重试的任务进入归档（死信）
func handleTaskError(ctx context.Context, task *asynq.Task, err error) {
	if task == nil || err == nil {
		return
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	taskID, _ := asynq.GetTaskID(ctx)

	reason := ""
	switch {
	case errors.Is(err, asynq.SkipRetry):
		reason = "malformed"
	case retried >= maxRetry:
		reason = "retries_exhausted"
	}
	if reason == "" {
		logger.Warnw("worker_task_failed",
			"task_type", task.Type(),
			"task_id", taskID,
			"retried", retried,
			"max_retry", maxRetry,
			"error", err,
		)
		return
	}
	metrics.DeadLetters.WithLabelValues(constants.QueueDriverAsynq, reason).Inc()
	logger.Errorw("worker_task_dead_lettered",
		"task_type", task.Type(),
		"task_id", taskID,
		"reason", reason,
		"retried", retried,
		"max_retry", maxRetry,
		"payload", string(task.Payload()),
		"error", err,
	)
}
