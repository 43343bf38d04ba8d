package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"
	"github.com/Do1K/b2b-point-service/internal/queue"
	"github.com/Do1K/b2b-point-service/internal/service"

	"github.com/hibiken/asynq"
)

// Reconciler 批处理入库
type Reconciler interface {
	ReconcileOnce(ctx context.Context) (service.ReconcileReport, error)
}

type backlogReader interface {
	Len(ctx context.Context) (int64, error)
}

// Service 发放消费与批处理服务
type Service struct {
	name   string
	driver string

	server *asynq.Server
	mux    *asynq.ServeMux

	issueConsumer    *KafkaIssueConsumer
	deadLetterLogger *KafkaDeadLetterLogger

	reconciler        Reconciler
	backlog           backlogReader
	reconcileInterval time.Duration
	reconciling       atomic.Bool
	wg                sync.WaitGroup
}

// NewService 按队列驱动创建消费服务
func NewService(consumer *Consumer) (*Service, error) {
	if consumer == nil || consumer.Container == nil || consumer.Config == nil {
		return nil, errors.New("consumer is nil")
	}
	cfg := consumer.Config
	s := &Service{
		name:              "worker",
		driver:            queue.NormalizeDriver(cfg.Queue.Driver),
		reconciler:        consumer.CouponReconcileService,
		reconcileInterval: cfg.Coupon.ReconcileInterval(),
	}

	if consumer.PendingBuffer != nil {
		s.backlog = consumer.PendingBuffer
	}

	switch s.driver {
	case constants.QueueDriverKafka:
		kafkaCfg := &cfg.Queue.Kafka
		reader, err := queue.NewKafkaReader(kafkaCfg, kafkaCfg.Topic, kafkaCfg.GroupID)
		if err != nil {
			return nil, err
		}
		dltWriter, err := queue.NewKafkaDeadLetterWriter(kafkaCfg)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		dltReader, err := queue.NewKafkaReader(kafkaCfg, kafkaCfg.DeadLetterTopic, constants.KafkaGroupCouponIssueDeadLetter)
		if err != nil {
			_ = reader.Close()
			_ = dltWriter.Close()
			return nil, err
		}
		s.issueConsumer = NewKafkaIssueConsumer(reader, dltWriter, consumer.PendingBuffer, kafkaCfg.MaxAttempts)
		s.deadLetterLogger = NewKafkaDeadLetterLogger(dltReader)
	default:
		opt, serverCfg := queue.BuildServerConfig(&cfg.Queue)
		serverCfg.ErrorHandler = asynq.ErrorHandlerFunc(handleTaskError)
		s.server = asynq.NewServer(opt, serverCfg)
		s.mux = asynq.NewServeMux()
		consumer.Register(s.mux)
	}
	return s, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务，阻塞直到 ctx 结束
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("worker not initialized")
	}
	if s.reconciler != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runReconcileLoop(ctx)
		}()
	}

	switch {
	case s.server != nil && s.mux != nil:
		if err := s.server.Start(s.mux); err != nil {
			return err
		}
	case s.issueConsumer != nil:
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			_ = s.issueConsumer.Run(ctx)
		}()
		go func() {
			defer s.wg.Done()
			_ = s.deadLetterLogger.Run(ctx)
		}()
	default:
		return errors.New("worker not initialized")
	}

	logger.Infow("worker_started", "driver", s.driver, "reconcile_interval", s.reconcileInterval.String())
	<-ctx.Done()
	return nil
}

// Stop 停止消费并在退出前排空缓冲区
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	if s.issueConsumer != nil {
		if err := s.issueConsumer.Close(); err != nil {
			logger.Warnw("worker_kafka_consumer_close_failed", "error", err)
		}
	}
	if s.deadLetterLogger != nil {
		if err := s.deadLetterLogger.Close(); err != nil {
			logger.Warnw("worker_kafka_dead_letter_close_failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.reconcileOnce(ctx)
	return nil
}

func (s *Service) runReconcileLoop(ctx context.Context) {
	interval := s.reconcileInterval
	if interval <= 0 {
		interval = time.Duration(constants.ReconcileIntervalSecondsDefault) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce 上一轮未结束时跳过
func (s *Service) reconcileOnce(ctx context.Context) bool {
	if s.reconciler == nil {
		return false
	}
	if !s.reconciling.CompareAndSwap(false, true) {
		logger.Debugw("worker_reconcile_skip_running")
		return false
	}
	defer s.reconciling.Store(false)

	if _, err := s.reconciler.ReconcileOnce(ctx); err != nil {
		logger.Warnw("worker_reconcile_failed", "error", err)
	}
	s.recordBacklog(ctx)
	return true
}

// recordBacklog 记录本轮结束后新积压的消息数
func (s *Service) recordBacklog(ctx context.Context) (int64, bool) {
	if s.backlog == nil {
		return 0, false
	}
	depth, err := s.backlog.Len(ctx)
	if err != nil {
		logger.Warnw("worker_buffer_depth_failed", "error", err)
		return 0, false
	}
	metrics.BufferDepth.Set(float64(depth))
	if depth > 0 {
		logger.Debugw("worker_buffer_backlog", "depth", depth)
	}
	return depth, true
}
