package repository

import (
	"errors"
	"sort"

	"github.com/Do1K/b2b-point-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CouponTemplateRepository 优惠券模板数据访问接口
type CouponTemplateRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) *GormCouponTemplateRepository
	GetByID(id uint) (*models.CouponTemplate, error)
	GetByIDForUpdate(id uint) (*models.CouponTemplate, error)
	ListByIDs(ids []uint) ([]models.CouponTemplate, error)
	Create(template *models.CouponTemplate) error
	UpdateIssuedQuantity(id uint, issued int) error
	IncrementIssuedQuantities(deltas map[uint]int) error
	RecountIssuedQuantities(ids []uint) error
}

// GormCouponTemplateRepository GORM 实现
type GormCouponTemplateRepository struct {
	db *gorm.DB
}

// NewCouponTemplateRepository 创建模板仓库
func NewCouponTemplateRepository(db *gorm.DB) *GormCouponTemplateRepository {
	return &GormCouponTemplateRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCouponTemplateRepository) WithTx(tx *gorm.DB) *GormCouponTemplateRepository {
	if tx == nil {
		return r
	}
	return &GormCouponTemplateRepository{db: tx}
}

// Transaction 执行事务
func (r *GormCouponTemplateRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// GetByID 根据ID获取模板
func (r *GormCouponTemplateRepository) GetByID(id uint) (*models.CouponTemplate, error) {
	var template models.CouponTemplate
	if err := r.db.First(&template, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &template, nil
}

// GetByIDForUpdate 根据ID获取模板并加行锁
func (r *GormCouponTemplateRepository) GetByIDForUpdate(id uint) (*models.CouponTemplate, error) {
	var template models.CouponTemplate
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&template, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &template, nil
}

// ListByIDs 批量获取模板
func (r *GormCouponTemplateRepository) ListByIDs(ids []uint) ([]models.CouponTemplate, error) {
	if len(ids) == 0 {
		return []models.CouponTemplate{}, nil
	}
	var templates []models.CouponTemplate
	if err := r.db.Where("id IN ?", ids).Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// Create 创建模板
func (r *GormCouponTemplateRepository) Create(template *models.CouponTemplate) error {
	return r.db.Create(template).Error
}

// UpdateIssuedQuantity 覆盖已发放数量
func (r *GormCouponTemplateRepository) UpdateIssuedQuantity(id uint, issued int) error {
	return r.db.Model(&models.CouponTemplate{}).
		Where("id = ?", id).
		UpdateColumn("issued_quantity", issued).Error
}

// IncrementIssuedQuantities 按模板累加已发放数量，按ID升序更新避免交叉加锁
func (r *GormCouponTemplateRepository) IncrementIssuedQuantities(deltas map[uint]int) error {
	for _, id := range sortedTemplateIDs(deltas) {
		delta := deltas[id]
		if delta == 0 {
			continue
		}
		if err := r.db.Model(&models.CouponTemplate{}).
			Where("id = ?", id).
			UpdateColumn("issued_quantity", gorm.Expr("issued_quantity + ?", delta)).Error; err != nil {
			return err
		}
	}
	return nil
}

// RecountIssuedQuantities 以券表实际行数重算已发放数量
func (r *GormCouponTemplateRepository) RecountIssuedQuantities(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return r.db.Model(&models.CouponTemplate{}).
		Where("id IN ?", sorted).
		UpdateColumn("issued_quantity", gorm.Expr(
			"(SELECT COUNT(*) FROM coupons WHERE coupons.coupon_template_id = coupon_templates.id)",
		)).Error
}

func sortedTemplateIDs(deltas map[uint]int) []uint {
	ids := make([]uint, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
