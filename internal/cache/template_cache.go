package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"
	"github.com/Do1K/b2b-point-service/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	// templateSnapshotBaseTTL 已生效模板快照的缓存时长
	templateSnapshotBaseTTL = 24 * time.Hour

	defaultTemplateLockTTL    = 5 * time.Second
	defaultTemplateRetryDelay = 100 * time.Millisecond
	defaultTemplateMaxRetries = 50
)

// ErrTemplateCacheBusy 回源锁长时间被占用，重试次数耗尽
var ErrTemplateCacheBusy = errors.New("template cache fill is busy")

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TemplateSnapshot 模板静态字段快照（不含已发放数量），写入后只整体替换
type TemplateSnapshot struct {
	ID                uint          `json:"id"`
	PartnerID         uint          `json:"partner_id"`
	Name              string        `json:"name"`
	CouponType        string        `json:"coupon_type"`
	DiscountValue     models.Money  `json:"discount_value"`
	MaxDiscountAmount *models.Money `json:"max_discount_amount,omitempty"`
	MinOrderAmount    models.Money  `json:"min_order_amount"`
	TotalQuantity     *int          `json:"total_quantity"`
	ValidFrom         time.Time     `json:"valid_from"`
	ValidUntil        time.Time     `json:"valid_until"`
}

// NewTemplateSnapshot 从模板实体生成快照
func NewTemplateSnapshot(template *models.CouponTemplate) *TemplateSnapshot {
	if template == nil {
		return nil
	}
	snapshot := &TemplateSnapshot{
		ID:             template.ID,
		PartnerID:      template.PartnerID,
		Name:           template.Name,
		CouponType:     template.CouponType,
		DiscountValue:  template.DiscountValue,
		MinOrderAmount: template.MinOrderAmount,
		ValidFrom:      template.ValidFrom,
		ValidUntil:     template.ValidUntil,
	}
	if template.MaxDiscountAmount != nil {
		maxDiscount := *template.MaxDiscountAmount
		snapshot.MaxDiscountAmount = &maxDiscount
	}
	if template.TotalQuantity != nil {
		total := *template.TotalQuantity
		snapshot.TotalQuantity = &total
	}
	return snapshot
}

// IsIssuableAt 判断时间点是否处于发放窗口
func (s *TemplateSnapshot) IsIssuableAt(now time.Time) bool {
	return !now.Before(s.ValidFrom) && now.Before(s.ValidUntil)
}

// OwnedBy 判断模板是否属于合作方
func (s *TemplateSnapshot) OwnedBy(partnerID uint) bool {
	return s.PartnerID == partnerID
}

// SnapshotTTL 计算快照缓存时长：已生效为 1 天，未生效为距生效时间再加 1 天
func SnapshotTTL(now, validFrom time.Time) time.Duration {
	if !now.Before(validFrom) {
		return templateSnapshotBaseTTL
	}
	return validFrom.Sub(now) + templateSnapshotBaseTTL
}

// TemplateLoader 模板回源接口
type TemplateLoader interface {
	GetByID(id uint) (*models.CouponTemplate, error)
}

// TemplateCacheOptions 模板缓存参数
type TemplateCacheOptions struct {
	LockTTL    time.Duration
	RetryDelay time.Duration
	MaxRetries int
	Now        func() time.Time
}

// TemplateCache 带回源互斥的模板读穿缓存
type TemplateCache struct {
	client     *redis.Client
	keys       KeySpace
	loader     TemplateLoader
	group      singleflight.Group
	lockTTL    time.Duration
	retryDelay time.Duration
	maxRetries int
	now        func() time.Time
}

// NewTemplateCache 创建模板缓存
func NewTemplateCache(client *redis.Client, keys KeySpace, loader TemplateLoader, opts TemplateCacheOptions) *TemplateCache {
	c := &TemplateCache{
		client:     client,
		keys:       keys,
		loader:     loader,
		lockTTL:    opts.LockTTL,
		retryDelay: opts.RetryDelay,
		maxRetries: opts.MaxRetries,
		now:        opts.Now,
	}
	if c.lockTTL <= 0 {
		c.lockTTL = defaultTemplateLockTTL
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultTemplateRetryDelay
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultTemplateMaxRetries
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get 读取模板快照，未命中时在分布式锁保护下回源
func (c *TemplateCache) Get(ctx context.Context, templateID uint) (*TemplateSnapshot, error) {
	snapshot, hit, err := c.read(ctx, templateID)
	if err != nil {
		metrics.TemplateCacheLookups.WithLabelValues("error").Inc()
		return nil, err
	}
	if hit {
		metrics.TemplateCacheLookups.WithLabelValues("hit").Inc()
		return snapshot, nil
	}

	// 同进程内的并发未命中先合并，再参与跨实例的锁竞争
	value, err, _ := c.group.Do(strconv.FormatUint(uint64(templateID), 10), func() (interface{}, error) {
		return c.fill(ctx, templateID)
	})
	if err != nil {
		if errors.Is(err, ErrTemplateCacheBusy) {
			metrics.TemplateCacheLookups.WithLabelValues("busy").Inc()
		}
		return nil, err
	}
	return value.(*TemplateSnapshot), nil
}

// Put 写入快照（模板创建后预热）
func (c *TemplateCache) Put(ctx context.Context, snapshot *TemplateSnapshot) error {
	if snapshot == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ttl := SnapshotTTL(c.now(), snapshot.ValidFrom)
	return c.client.Set(ctx, c.keys.Template(snapshot.ID), payload, ttl).Err()
}

func (c *TemplateCache) read(ctx context.Context, templateID uint) (*TemplateSnapshot, bool, error) {
	key := c.keys.Template(templateID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read template cache failed: %w", err)
	}
	var snapshot TemplateSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		logger.Warnw("template_cache_entry_corrupt", "template_id", templateID, "error", err)
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			logger.Warnw("template_cache_entry_evict_failed", "template_id", templateID, "error", delErr)
		}
		return nil, false, nil
	}
	return &snapshot, true, nil
}

func (c *TemplateCache) fill(ctx context.Context, templateID uint) (*TemplateSnapshot, error) {
	lockKey := c.keys.TemplateLock(templateID)
	for attempt := 0; ; attempt++ {
		token := uuid.NewString()
		acquired, err := c.client.SetNX(ctx, lockKey, token, c.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire template lock failed: %w", err)
		}
		if acquired {
			return c.loadLocked(ctx, templateID, lockKey, token)
		}

		if attempt >= c.maxRetries {
			logger.Warnw("template_cache_fill_busy", "template_id", templateID, "attempts", attempt+1)
			return nil, ErrTemplateCacheBusy
		}
		if err := sleepContext(ctx, c.retryDelay); err != nil {
			return nil, err
		}
		snapshot, hit, err := c.read(ctx, templateID)
		if err != nil {
			return nil, err
		}
		if hit {
			metrics.TemplateCacheLookups.WithLabelValues("hit").Inc()
			return snapshot, nil
		}
	}
}

func (c *TemplateCache) loadLocked(ctx context.Context, templateID uint, lockKey, token string) (*TemplateSnapshot, error) {
	defer func() {
		if err := releaseLockScript.Run(context.WithoutCancel(ctx), c.client, []string{lockKey}, token).Err(); err != nil {
			logger.Warnw("template_cache_lock_release_failed", "template_id", templateID, "error", err)
		}
	}()

	// 上一个持锁者可能刚写完缓存
	if snapshot, hit, err := c.read(ctx, templateID); err != nil {
		return nil, err
	} else if hit {
		metrics.TemplateCacheLookups.WithLabelValues("hit").Inc()
		return snapshot, nil
	}

	template, err := c.loader.GetByID(templateID)
	if err != nil {
		return nil, fmt.Errorf("load coupon template failed: %w", err)
	}
	if template == nil {
		return nil, models.ErrCouponTemplateNotFound
	}
	metrics.TemplateCacheLookups.WithLabelValues("fill").Inc()

	snapshot := NewTemplateSnapshot(template)
	if err := c.Put(ctx, snapshot); err != nil {
		// 写缓存失败不影响本次请求，下次请求重新回源
		logger.Warnw("template_cache_write_failed", "template_id", templateID, "error", err)
	}
	return snapshot, nil
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
