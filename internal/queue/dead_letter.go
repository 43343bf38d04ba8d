package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/config"

	"github.com/hibiken/asynq"
)

// DeadLetter 已归档（重试耗尽或不可重试）的发放任务
type DeadLetter struct {
	ID           string    `json:"id"`
	Queue        string    `json:"queue"`
	Type         string    `json:"type"`
	Payload      string    `json:"payload"`
	LastError    string    `json:"last_error"`
	LastFailedAt time.Time `json:"last_failed_at"`
	Retried      int       `json:"retried"`
	MaxRetry     int       `json:"max_retry"`
}

// DeadLetterInspector asynq 死信巡检
type DeadLetterInspector struct {
	inspector *asynq.Inspector
	queue     string
}

// NewDeadLetterInspector 创建死信巡检
func NewDeadLetterInspector(cfg *config.QueueConfig) *DeadLetterInspector {
	return &DeadLetterInspector{
		inspector: asynq.NewInspector(buildRedisOpt(cfg)),
		queue:     CouponIssueQueue,
	}
}

// List 分页列出死信
func (d *DeadLetterInspector) List(page, pageSize int) ([]DeadLetter, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	tasks, err := d.inspector.ListArchivedTasks(d.queue, asynq.Page(page), asynq.PageSize(pageSize))
	if err != nil {
		if isQueueNotFound(err) {
			return []DeadLetter{}, nil
		}
		return nil, fmt.Errorf("list archived tasks failed: %w", err)
	}
	items := make([]DeadLetter, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, DeadLetter{
			ID:           task.ID,
			Queue:        task.Queue,
			Type:         task.Type,
			Payload:      string(task.Payload),
			LastError:    task.LastErr,
			LastFailedAt: task.LastFailedAt,
			Retried:      task.Retried,
			MaxRetry:     task.MaxRetry,
		})
	}
	return items, nil
}

// Replay 重新投递指定死信
func (d *DeadLetterInspector) Replay(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	if err := d.inspector.RunTask(d.queue, id); err != nil {
		return fmt.Errorf("replay archived task %s failed: %w", id, err)
	}
	return nil
}

// ReplayAll 重新投递全部死信
func (d *DeadLetterInspector) ReplayAll() (int, error) {
	n, err := d.inspector.RunAllArchivedTasks(d.queue)
	if err != nil {
		if isQueueNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("replay archived tasks failed: %w", err)
	}
	return n, nil
}

// Close 关闭巡检连接
func (d *DeadLetterInspector) Close() error {
	if d == nil || d.inspector == nil {
		return nil
	}
	return d.inspector.Close()
}

func isQueueNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "queue not found")
}
