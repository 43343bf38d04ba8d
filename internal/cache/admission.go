package cache

import (
	"context"
	"fmt"

	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// AdmissionResult 发放闸门判定结果
type AdmissionResult int

const (
	AdmissionAdmitted AdmissionResult = iota + 1
	AdmissionAlreadyClaimed
	AdmissionQuotaExceeded
)

func (r AdmissionResult) String() string {
	switch r {
	case AdmissionAdmitted:
		return "admitted"
	case AdmissionAlreadyClaimed:
		return "already_claimed"
	case AdmissionQuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// 只有确实从集合移除了成员才回退计数，重复回滚不会把计数减成负数
var releaseClaimScript = redis.NewScript(`
local removed = redis.call("SREM", KEYS[1], ARGV[1])
if removed == 1 then
	return {removed, redis.call("DECR", KEYS[2])}
end
return {0, tonumber(redis.call("GET", KEYS[2]) or "0")}
`)

// AdmissionGate 基于 Redis 集合与计数器的发放闸门
type AdmissionGate struct {
	client *redis.Client
	keys   KeySpace
}

// NewAdmissionGate 创建发放闸门
func NewAdmissionGate(client *redis.Client, keys KeySpace) *AdmissionGate {
	return &AdmissionGate{client: client, keys: keys}
}

// TryAdmit 判定用户能否领取模板：先入集合去重，再自增计数，超出总量时补偿移除
// quota 为空表示不限量，此时只计数不拦截。
func (g *AdmissionGate) TryAdmit(ctx context.Context, templateID uint, userID string, quota *int) (AdmissionResult, error) {
	usersKey := g.keys.TemplateUsers(templateID)
	added, err := g.client.SAdd(ctx, usersKey, userID).Result()
	if err != nil {
		metrics.AdmissionDecisions.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("admission claim failed: %w", err)
	}
	if added == 0 {
		metrics.AdmissionDecisions.WithLabelValues(AdmissionAlreadyClaimed.String()).Inc()
		return AdmissionAlreadyClaimed, nil
	}

	count, err := g.client.Incr(ctx, g.keys.TemplateCount(templateID)).Result()
	if err != nil {
		// 计数结果未知，只撤销集合成员，让用户可以重试
		if remErr := g.client.SRem(ctx, usersKey, userID).Err(); remErr != nil {
			logger.Errorw("admission_claim_revert_failed",
				"template_id", templateID,
				"user_id", userID,
				"error", remErr,
			)
		}
		metrics.AdmissionDecisions.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("admission count failed: %w", err)
	}

	if quota != nil && count > int64(*quota) {
		if _, err := g.release(ctx, templateID, userID); err != nil {
			logger.Errorw("admission_quota_compensation_failed",
				"template_id", templateID,
				"user_id", userID,
				"count", count,
				"error", err,
			)
		}
		metrics.AdmissionDecisions.WithLabelValues(AdmissionQuotaExceeded.String()).Inc()
		return AdmissionQuotaExceeded, nil
	}

	metrics.AdmissionDecisions.WithLabelValues(AdmissionAdmitted.String()).Inc()
	return AdmissionAdmitted, nil
}

// Rollback 撤销一次成功的判定（下游发布失败时调用）
func (g *AdmissionGate) Rollback(ctx context.Context, templateID uint, userID string) error {
	removed, err := g.release(ctx, templateID, userID)
	if err != nil {
		metrics.AdmissionRollbacks.WithLabelValues("error").Inc()
		return fmt.Errorf("admission rollback failed: %w", err)
	}
	if !removed {
		metrics.AdmissionRollbacks.WithLabelValues("noop").Inc()
		logger.Warnw("admission_rollback_noop", "template_id", templateID, "user_id", userID)
		return nil
	}
	metrics.AdmissionRollbacks.WithLabelValues("ok").Inc()
	return nil
}

// Claimed 返回模板当前占用的名额数
func (g *AdmissionGate) Claimed(ctx context.Context, templateID uint) (int64, error) {
	count, err := g.client.Get(ctx, g.keys.TemplateCount(templateID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (g *AdmissionGate) release(ctx context.Context, templateID uint, userID string) (bool, error) {
	keys := []string{g.keys.TemplateUsers(templateID), g.keys.TemplateCount(templateID)}
	result, err := releaseClaimScript.Run(context.WithoutCancel(ctx), g.client, keys, userID).Slice()
	if err != nil {
		return false, err
	}
	if len(result) == 0 {
		return false, fmt.Errorf("unexpected release result: %v", result)
	}
	removed, ok := result[0].(int64)
	if !ok {
		return false, fmt.Errorf("unexpected release result: %v", result)
	}
	return removed == 1, nil
}
