package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Do1K/b2b-point-service/internal/cache"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"
	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/queue"
	"github.com/Do1K/b2b-point-service/internal/repository"

	"gorm.io/gorm"
)

// PendingBuffer 待入库缓冲区
type PendingBuffer interface {
	Pending(ctx context.Context) (bool, error)
	ClaimAll(ctx context.Context) (*cache.ClaimedBatch, error)
}

// ReconcileReport 一轮批处理结果
type ReconcileReport struct {
	Claimed      int
	Malformed    int
	Duplicates   int
	Inserted     int64
	Skipped      int64
	Chunks       int
	FailedChunks int
}

// CouponReconcileService 将缓冲区中的发放消息批量写入数据库
type CouponReconcileService struct {
	templateRepo repository.CouponTemplateRepository
	couponRepo   repository.CouponRepository
	buffer       PendingBuffer
	chunkSize    int
	now          func() time.Time
}

// NewCouponReconcileService 创建批处理服务
func NewCouponReconcileService(
	templateRepo repository.CouponTemplateRepository,
	couponRepo repository.CouponRepository,
	buffer PendingBuffer,
	chunkSize int,
) *CouponReconcileService {
	if chunkSize <= 0 {
		chunkSize = constants.ReconcileChunkSizeDefault
	}
	return &CouponReconcileService{
		templateRepo: templateRepo,
		couponRepo:   couponRepo,
		buffer:       buffer,
		chunkSize:    chunkSize,
		now:          time.Now,
	}
}

type pendingEntry struct {
	raw string
	msg queue.IssuanceMessage
}

type issueKey struct {
	templateID uint
	userID     string
}

// ReconcileOnce 认领当前缓冲区并分块入库；单块失败只回滚该块
func (s *CouponReconcileService) ReconcileOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	pending, err := s.buffer.Pending(ctx)
	if err != nil {
		metrics.ReconcileRounds.WithLabelValues("error").Inc()
		return report, fmt.Errorf("check pending issue requests failed: %w", err)
	}
	if !pending {
		metrics.ReconcileRounds.WithLabelValues("idle").Inc()
		return report, nil
	}

	batch, err := s.buffer.ClaimAll(ctx)
	if err != nil {
		if batch != nil {
			// 已改名但未读出，保留认领键供人工重放
			logger.Errorw("coupon_reconcile_claim_read_failed", "claim_key", batch.Key, "error", err)
		}
		metrics.ReconcileRounds.WithLabelValues("error").Inc()
		return report, err
	}
	if batch == nil {
		metrics.ReconcileRounds.WithLabelValues("idle").Inc()
		return report, nil
	}
	defer func() {
		if relErr := batch.Release(ctx); relErr != nil {
			logger.Warnw("coupon_reconcile_release_failed", "claim_key", batch.Key, "error", relErr)
		}
	}()
	report.Claimed = len(batch.Entries)

	entries := s.decodeEntries(batch.Entries, &report)
	for offset := 0; offset < len(entries); offset += s.chunkSize {
		end := offset + s.chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[offset:end]
		report.Chunks++

		inserted, err := s.persistChunk(chunk)
		if err != nil {
			report.FailedChunks++
			metrics.ReconcileEntries.WithLabelValues("failed").Add(float64(len(chunk)))
			raws := make([]string, 0, len(chunk))
			for _, entry := range chunk {
				raws = append(raws, entry.raw)
			}
			logger.Errorw("coupon_reconcile_chunk_failed",
				"claim_key", batch.Key,
				"chunk_size", len(chunk),
				"entries", raws,
				"error", err,
			)
			continue
		}
		skipped := int64(len(chunk)) - inserted
		report.Inserted += inserted
		report.Skipped += skipped
		metrics.ReconcileEntries.WithLabelValues("inserted").Add(float64(inserted))
		metrics.ReconcileEntries.WithLabelValues("skipped").Add(float64(skipped))
	}

	result := "ok"
	if report.FailedChunks > 0 {
		result = "partial"
	}
	metrics.ReconcileRounds.WithLabelValues(result).Inc()
	logger.Infow("coupon_reconcile_round_done",
		"claim_key", batch.Key,
		"claimed", report.Claimed,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
		"malformed", report.Malformed,
		"duplicates", report.Duplicates,
		"failed_chunks", report.FailedChunks,
	)
	return report, nil
}

func (s *CouponReconcileService) decodeEntries(raws []string, report *ReconcileReport) []pendingEntry {
	entries := make([]pendingEntry, 0, len(raws))
	seen := make(map[issueKey]struct{}, len(raws))
	for _, raw := range raws {
		msg, err := queue.DecodeIssuanceMessage([]byte(raw))
		if err != nil {
			report.Malformed++
			metrics.ReconcileEntries.WithLabelValues("malformed").Inc()
			logger.Warnw("coupon_reconcile_entry_malformed", "entry", raw, "error", err)
			continue
		}
		key := issueKey{templateID: msg.TemplateID, userID: msg.UserID}
		if _, ok := seen[key]; ok {
			// 投递重试可能产生同一用户的重复消息
			report.Duplicates++
			metrics.ReconcileEntries.WithLabelValues("duplicate").Inc()
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, pendingEntry{raw: raw, msg: msg})
	}
	return entries
}

// persistChunk 单事务写入一块：批量插入 + 按模板更新已发放数量
func (s *CouponReconcileService) persistChunk(chunk []pendingEntry) (int64, error) {
	now := s.now().UTC()
	coupons := make([]*models.Coupon, 0, len(chunk))
	deltas := make(map[uint]int)
	for _, entry := range chunk {
		msg := entry.msg
		coupons = append(coupons, models.NewIssuedCoupon(msg.PartnerID, msg.TemplateID, msg.UserID, msg.ValidUntil, now))
		deltas[msg.TemplateID]++
	}

	var inserted int64
	err := s.templateRepo.Transaction(func(tx *gorm.DB) error {
		n, err := s.couponRepo.WithTx(tx).CreateBatchIgnoreConflicts(coupons)
		if err != nil {
			return fmt.Errorf("insert coupons failed: %w", err)
		}
		inserted = n

		templateRepo := s.templateRepo.WithTx(tx)
		if n == int64(len(coupons)) {
			if err := templateRepo.IncrementIssuedQuantities(deltas); err != nil {
				return fmt.Errorf("increment issued quantity failed: %w", err)
			}
			return nil
		}
		// 有行被跳过（重放已提交的块），按实际行数重算
		ids := make([]uint, 0, len(deltas))
		for id := range deltas {
			ids = append(ids, id)
		}
		if err := templateRepo.RecountIssuedQuantities(ids); err != nil {
			return fmt.Errorf("recount issued quantity failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
