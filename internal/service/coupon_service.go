package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/cache"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/queue"
	"github.com/Do1K/b2b-point-service/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultPublishTimeout = 3 * time.Second

// TemplateCache 模板快照读取
type TemplateCache interface {
	Get(ctx context.Context, templateID uint) (*cache.TemplateSnapshot, error)
	Put(ctx context.Context, snapshot *cache.TemplateSnapshot) error
}

// AdmissionGate 发放准入闸门
type AdmissionGate interface {
	TryAdmit(ctx context.Context, templateID uint, userID string, quota *int) (cache.AdmissionResult, error)
	Rollback(ctx context.Context, templateID uint, userID string) error
	Claimed(ctx context.Context, templateID uint) (int64, error)
}

// CouponService 优惠券发放服务
type CouponService struct {
	templateRepo   repository.CouponTemplateRepository
	couponRepo     repository.CouponRepository
	templates      TemplateCache
	gate           AdmissionGate
	publisher      queue.Publisher
	publishTimeout time.Duration
	now            func() time.Time
}

// NewCouponService 创建优惠券发放服务
func NewCouponService(
	templateRepo repository.CouponTemplateRepository,
	couponRepo repository.CouponRepository,
	templates TemplateCache,
	gate AdmissionGate,
	publisher queue.Publisher,
	publishTimeout time.Duration,
) *CouponService {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &CouponService{
		templateRepo:   templateRepo,
		couponRepo:     couponRepo,
		templates:      templates,
		gate:           gate,
		publisher:      publisher,
		publishTimeout: publishTimeout,
		now:            time.Now,
	}
}

// CreateCouponTemplateInput 创建模板参数
type CreateCouponTemplateInput struct {
	Name              string
	CouponType        string
	DiscountValue     models.Money
	MaxDiscountAmount *models.Money
	MinOrderAmount    models.Money
	TotalQuantity     *int
	ValidFrom         time.Time
	ValidUntil        time.Time
}

// IssueCouponInput 发放参数
type IssueCouponInput struct {
	TemplateID uint
	UserID     string
}

// UseCouponInput 核销参数
type UseCouponInput struct {
	UserID      string
	OrderID     string
	OrderAmount models.Money
}

// UseCouponResult 核销结果
type UseCouponResult struct {
	Coupon         *models.Coupon
	DiscountAmount models.Money
}

// CouponView 用户优惠券（附模板名称）
type CouponView struct {
	Coupon       models.Coupon
	TemplateName string
}

// AdmissionStatus 模板准入计数
type AdmissionStatus struct {
	TemplateID    uint
	Claimed       int64
	TotalQuantity *int
	Remaining     *int64
}

// CreateTemplate 创建优惠券模板并预热缓存
func (s *CouponService) CreateTemplate(ctx context.Context, partnerID uint, input CreateCouponTemplateInput) (*models.CouponTemplate, error) {
	if partnerID == 0 {
		return nil, ErrInvalidInput
	}
	now := s.now()
	if err := validateTemplateInput(&input, now); err != nil {
		return nil, err
	}

	template := &models.CouponTemplate{
		PartnerID:         partnerID,
		Name:              input.Name,
		CouponType:        input.CouponType,
		DiscountValue:     input.DiscountValue,
		MaxDiscountAmount: input.MaxDiscountAmount,
		MinOrderAmount:    input.MinOrderAmount,
		TotalQuantity:     input.TotalQuantity,
		ValidFrom:         input.ValidFrom.UTC(),
		ValidUntil:        input.ValidUntil.UTC(),
	}
	template.Touch(now)
	if err := s.templateRepo.Create(template); err != nil {
		return nil, fmt.Errorf("create coupon template failed: %w", err)
	}

	if s.templates != nil {
		if err := s.templates.Put(ctx, cache.NewTemplateSnapshot(template)); err != nil {
			// 预热失败不影响创建，首次读取时回源
			logger.Warnw("coupon_template_cache_warm_failed", "template_id", template.ID, "error", err)
		}
	}
	return template, nil
}

// IssueDirect 同步发放：模板行锁内校验并写入
// 与异步发放共用 Redis 准入计数，两条路径混用时总量仍以同一计数为准。
func (s *CouponService) IssueDirect(ctx context.Context, partnerID uint, input IssueCouponInput) (*models.Coupon, error) {
	userID, err := normalizeIssueInput(partnerID, input)
	if err != nil {
		return nil, err
	}

	var issued *models.Coupon
	var admittedTemplateID uint
	err = s.templateRepo.Transaction(func(tx *gorm.DB) error {
		templateRepo := s.templateRepo.WithTx(tx)
		couponRepo := s.couponRepo.WithTx(tx)

		template, err := templateRepo.GetByIDForUpdate(input.TemplateID)
		if err != nil {
			return err
		}
		if template == nil {
			return ErrCouponTemplateNotFound
		}
		if !template.OwnedBy(partnerID) {
			return ErrForbidden
		}
		now := s.now()
		if !template.IsIssuableAt(now) {
			return ErrCouponNotInIssuePeriod
		}
		exists, err := couponRepo.ExistsByTemplateAndUser(template.ID, userID)
		if err != nil {
			return err
		}
		if exists {
			return ErrCouponAlreadyIssued
		}
		if err := s.admit(ctx, template.ID, userID, template.TotalQuantity); err != nil {
			return err
		}
		admittedTemplateID = template.ID
		if err := template.IncreaseIssued(); err != nil {
			return err
		}
		if err := templateRepo.UpdateIssuedQuantity(template.ID, template.IssuedQuantity); err != nil {
			return err
		}

		coupon := models.NewCoupon(template, userID, now)
		if err := couponRepo.Create(coupon); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrCouponAlreadyIssued
			}
			return err
		}
		issued = coupon
		return nil
	})
	if err != nil {
		if admittedTemplateID != 0 {
			s.rollbackAdmission(ctx, admittedTemplateID, userID)
		}
		return nil, err
	}
	return issued, nil
}

func (s *CouponService) admit(ctx context.Context, templateID uint, userID string, quota *int) error {
	if s.gate == nil {
		return nil
	}
	result, err := s.gate.TryAdmit(ctx, templateID, userID, quota)
	if err != nil {
		return err
	}
	switch result {
	case cache.AdmissionAdmitted:
		return nil
	case cache.AdmissionAlreadyClaimed:
		return ErrCouponAlreadyIssued
	case cache.AdmissionQuotaExceeded:
		return ErrCouponQuotaExceeded
	default:
		return fmt.Errorf("unexpected admission result %s", result)
	}
}

// rollbackAdmission 使用独立 context，请求取消后也要归还名额
func (s *CouponService) rollbackAdmission(ctx context.Context, templateID uint, userID string) {
	if s.gate == nil {
		return
	}
	if err := s.gate.Rollback(context.WithoutCancel(ctx), templateID, userID); err != nil {
		logger.Errorw("coupon_issue_rollback_failed",
			"template_id", templateID,
			"user_id", userID,
			"error", err,
		)
	}
}

// IssueAsync 异步发放：缓存快照校验 + Redis 准入，放行后投递消息，由批处理入库
func (s *CouponService) IssueAsync(ctx context.Context, partnerID uint, input IssueCouponInput) error {
	userID, err := normalizeIssueInput(partnerID, input)
	if err != nil {
		return err
	}

	snapshot, err := s.templates.Get(ctx, input.TemplateID)
	if err != nil {
		return err
	}
	if !snapshot.OwnedBy(partnerID) {
		return ErrForbidden
	}
	if !snapshot.IsIssuableAt(s.now()) {
		return ErrCouponNotInIssuePeriod
	}

	if err := s.admit(ctx, snapshot.ID, userID, snapshot.TotalQuantity); err != nil {
		return err
	}

	msg := queue.NewIssuanceMessage(partnerID, snapshot.ID, userID, snapshot.ValidUntil)
	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.publisher.PublishIssuance(publishCtx, msg); err != nil {
		s.rollbackAdmission(ctx, snapshot.ID, userID)
		logger.Warnw("coupon_issue_publish_failed",
			"template_id", snapshot.ID,
			"user_id", userID,
			"driver", s.publisher.Driver(),
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrMessagingSystem, err)
	}
	return nil
}

// UseCoupon 核销优惠券
func (s *CouponService) UseCoupon(partnerID uint, code string, input UseCouponInput) (*UseCouponResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	userID := strings.TrimSpace(input.UserID)
	orderID := strings.TrimSpace(input.OrderID)
	if partnerID == 0 || code == "" || userID == "" || orderID == "" || !input.OrderAmount.IsPositive() {
		return nil, ErrInvalidInput
	}

	var result *UseCouponResult
	err := s.templateRepo.Transaction(func(tx *gorm.DB) error {
		couponRepo := s.couponRepo.WithTx(tx)
		coupon, err := couponRepo.GetByCodeForUpdate(code)
		if err != nil {
			return err
		}
		if coupon == nil {
			return ErrCouponNotFound
		}
		now := s.now()
		if err := coupon.Use(partnerID, userID, orderID, now); err != nil {
			return err
		}

		template, err := s.templateRepo.WithTx(tx).GetByID(coupon.CouponTemplateID)
		if err != nil {
			return err
		}
		if template == nil {
			return ErrCouponTemplateNotFound
		}
		if input.OrderAmount.LessThan(template.MinOrderAmount) {
			return ErrCouponMinOrderAmount
		}
		if err := couponRepo.Update(coupon); err != nil {
			return err
		}
		result = &UseCouponResult{
			Coupon:         coupon,
			DiscountAmount: calculateDiscount(template, input.OrderAmount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListCoupons 查询用户在合作方下的优惠券
func (s *CouponService) ListCoupons(partnerID uint, userID string, page, pageSize int) ([]CouponView, int64, error) {
	userID = strings.TrimSpace(userID)
	if partnerID == 0 || userID == "" {
		return nil, 0, ErrInvalidInput
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	coupons, total, err := s.couponRepo.List(repository.CouponListFilter{
		PartnerID: partnerID,
		UserID:    userID,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return nil, 0, err
	}

	ids := make([]uint, 0, len(coupons))
	seen := make(map[uint]struct{}, len(coupons))
	for _, c := range coupons {
		if _, ok := seen[c.CouponTemplateID]; ok {
			continue
		}
		seen[c.CouponTemplateID] = struct{}{}
		ids = append(ids, c.CouponTemplateID)
	}
	templates, err := s.templateRepo.ListByIDs(ids)
	if err != nil {
		return nil, 0, err
	}
	names := make(map[uint]string, len(templates))
	for _, t := range templates {
		names[t.ID] = t.Name
	}

	views := make([]CouponView, 0, len(coupons))
	for _, c := range coupons {
		views = append(views, CouponView{Coupon: c, TemplateName: names[c.CouponTemplateID]})
	}
	return views, total, nil
}

// AdmissionStatus 查询模板在 Redis 中的准入计数
func (s *CouponService) AdmissionStatus(ctx context.Context, partnerID, templateID uint) (*AdmissionStatus, error) {
	if partnerID == 0 || templateID == 0 {
		return nil, ErrInvalidInput
	}
	snapshot, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !snapshot.OwnedBy(partnerID) {
		return nil, ErrForbidden
	}
	claimed, err := s.gate.Claimed(ctx, templateID)
	if err != nil {
		return nil, err
	}
	status := &AdmissionStatus{
		TemplateID:    templateID,
		Claimed:       claimed,
		TotalQuantity: snapshot.TotalQuantity,
	}
	if snapshot.TotalQuantity != nil {
		remaining := int64(*snapshot.TotalQuantity) - claimed
		if remaining < 0 {
			remaining = 0
		}
		status.Remaining = &remaining
	}
	return status, nil
}

func normalizeIssueInput(partnerID uint, input IssueCouponInput) (string, error) {
	userID := strings.TrimSpace(input.UserID)
	if partnerID == 0 || input.TemplateID == 0 || userID == "" {
		return "", ErrInvalidInput
	}
	return userID, nil
}

func validateTemplateInput(input *CreateCouponTemplateInput, now time.Time) error {
	input.Name = strings.TrimSpace(input.Name)
	input.CouponType = strings.ToLower(strings.TrimSpace(input.CouponType))
	if input.Name == "" {
		return ErrInvalidInput
	}
	switch input.CouponType {
	case constants.CouponTypeFixed, constants.CouponTypePercentage:
	default:
		return ErrCouponTemplateInvalid
	}
	if !input.DiscountValue.IsPositive() {
		return ErrCouponTemplateInvalid
	}
	if input.CouponType == constants.CouponTypePercentage &&
		input.DiscountValue.Decimal.GreaterThan(decimal.NewFromInt(100)) {
		return ErrCouponTemplateInvalid
	}
	if input.MaxDiscountAmount != nil && !input.MaxDiscountAmount.IsPositive() {
		return ErrCouponTemplateInvalid
	}
	if input.MinOrderAmount.Decimal.IsNegative() {
		return ErrCouponTemplateInvalid
	}
	if input.TotalQuantity != nil && *input.TotalQuantity <= 0 {
		return ErrCouponTemplateInvalid
	}
	if input.ValidFrom.IsZero() || input.ValidUntil.IsZero() || !input.ValidFrom.Before(input.ValidUntil) {
		return ErrCouponTemplateInvalid
	}
	if !input.ValidUntil.After(now) {
		return ErrCouponTemplateInvalid
	}
	return nil
}

// calculateDiscount 计算订单折扣金额，不超过订单金额与最大优惠
func calculateDiscount(template *models.CouponTemplate, orderAmount models.Money) models.Money {
	amount := orderAmount.Decimal
	var discount decimal.Decimal
	if template.IsPercentage() {
		discount = amount.Mul(template.DiscountValue.Decimal).Div(decimal.NewFromInt(100))
	} else {
		discount = template.DiscountValue.Decimal
	}
	if template.MaxDiscountAmount != nil && discount.GreaterThan(template.MaxDiscountAmount.Decimal) {
		discount = template.MaxDiscountAmount.Decimal
	}
	if discount.GreaterThan(amount) {
		discount = amount
	}
	return models.NewMoneyFromDecimal(discount)
}
