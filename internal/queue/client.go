package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/metrics"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// CouponIssueQueue 发放消息队列名称
	CouponIssueQueue = constants.QueueCouponIssue

	defaultMaxRetry    = 5
	defaultTaskTimeout = 10 * time.Second
)

// ErrQueueDisabled 队列未初始化
var ErrQueueDisabled = errors.New("queue client not initialized")

// Client asynq 发布端
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

// NewClient 创建 asynq 发布端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue config is nil")
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	timeout := defaultTaskTimeout
	if cfg.TaskTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TaskTimeoutSeconds) * time.Second
	}
	return &Client{
		client:   asynq.NewClient(buildRedisOpt(cfg)),
		queue:    CouponIssueQueue,
		maxRetry: maxRetry,
		timeout:  timeout,
	}, nil
}

// Enabled 判断是否可用
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Driver 驱动名称
func (c *Client) Driver() string {
	return constants.QueueDriverAsynq
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// PublishIssuance 推送发放消息；重试耗尽后由 asynq 归档（死信）
func (c *Client) PublishIssuance(ctx context.Context, msg IssuanceMessage) error {
	if !c.Enabled() {
		return ErrQueueDisabled
	}
	task, err := NewCouponIssueTask(msg)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(constants.QueueDriverAsynq).Inc()
		return fmt.Errorf("enqueue coupon issue task failed: %w", err)
	}
	return nil
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{CouponIssueQueue: 10, DefaultQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
