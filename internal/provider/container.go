package provider

import (
	"fmt"

	"github.com/Do1K/b2b-point-service/internal/cache"
	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/queue"
	"github.com/Do1K/b2b-point-service/internal/repository"
	"github.com/Do1K/b2b-point-service/internal/service"

	"github.com/redis/go-redis/v9"
)

// Container 依赖注入容器
type Container struct {
	Config    *config.Config
	Redis     *redis.Client
	Keys      cache.KeySpace
	Publisher queue.Publisher

	// Redis 组件
	TemplateCache *cache.TemplateCache
	AdmissionGate *cache.AdmissionGate
	PendingBuffer *cache.PendingBuffer

	// Repositories
	PartnerRepo        repository.PartnerRepository
	CouponTemplateRepo repository.CouponTemplateRepository
	CouponRepo         repository.CouponRepository

	// Services
	PartnerService         *service.PartnerService
	CouponService          *service.CouponService
	CouponReconcileService *service.CouponReconcileService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("init redis failed: %w", err)
	}

	publisher, err := queue.NewPublisher(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_publisher_failed", "driver", cfg.Queue.Driver, "error", err)
		return nil, err
	}

	c := &Container{
		Config:    cfg,
		Redis:     cache.Client(),
		Keys:      cache.Keys(),
		Publisher: publisher,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Redis 组件
	c.initCache()

	// 3. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initRepositories() {
	db := models.DB
	c.PartnerRepo = repository.NewPartnerRepository(db)
	c.CouponTemplateRepo = repository.NewCouponTemplateRepository(db)
	c.CouponRepo = repository.NewCouponRepository(db)
}

func (c *Container) initCache() {
	coupon := c.Config.Coupon
	c.TemplateCache = cache.NewTemplateCache(c.Redis, c.Keys, c.CouponTemplateRepo, cache.TemplateCacheOptions{
		LockTTL:    coupon.CacheLockTTL(),
		RetryDelay: coupon.CacheRetryDelay(),
		MaxRetries: coupon.CacheMaxRetries,
	})
	c.AdmissionGate = cache.NewAdmissionGate(c.Redis, c.Keys)
	c.PendingBuffer = cache.NewPendingBuffer(c.Redis, c.Keys)
}

func (c *Container) initServices() {
	c.PartnerService = service.NewPartnerService(c.PartnerRepo)
	c.CouponService = service.NewCouponService(
		c.CouponTemplateRepo,
		c.CouponRepo,
		c.TemplateCache,
		c.AdmissionGate,
		c.Publisher,
		c.Config.Coupon.PublishTimeout(),
	)
	c.CouponReconcileService = service.NewCouponReconcileService(
		c.CouponTemplateRepo,
		c.CouponRepo,
		c.PendingBuffer,
		c.Config.Coupon.ReconcileChunkSize,
	)
}

// Close 释放发布端与 Redis 连接
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			logger.Warnw("provider_close_publisher_failed", "error", err)
		}
	}
	return cache.Close()
}
