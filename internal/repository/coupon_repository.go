package repository

import (
	"errors"
	"strings"

	"github.com/Do1K/b2b-point-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 批量写入 coupons 时每行绑定的参数个数
const couponInsertColumns = 12

// CouponRepository 优惠券数据访问接口
type CouponRepository interface {
	GetByCode(code string) (*models.Coupon, error)
	GetByCodeForUpdate(code string) (*models.Coupon, error)
	Create(coupon *models.Coupon) error
	Update(coupon *models.Coupon) error
	ExistsByTemplateAndUser(templateID uint, userID string) (bool, error)
	CreateBatchIgnoreConflicts(coupons []*models.Coupon) (int64, error)
	List(filter CouponListFilter) ([]models.Coupon, int64, error)
	CountByTemplate(templateID uint) (int64, error)
	WithTx(tx *gorm.DB) *GormCouponRepository
}

// CouponListFilter 优惠券列表筛选
type CouponListFilter struct {
	PartnerID  uint
	UserID     string
	TemplateID uint
	Status     string
	Page       int
	PageSize   int
}

// GormCouponRepository GORM 实现
type GormCouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository 创建优惠券仓库
func NewCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCouponRepository) WithTx(tx *gorm.DB) *GormCouponRepository {
	if tx == nil {
		return r
	}
	return &GormCouponRepository{db: tx}
}

// GetByCode 根据券码获取优惠券
func (r *GormCouponRepository) GetByCode(code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

// GetByCodeForUpdate 根据券码获取优惠券并加行锁
func (r *GormCouponRepository) GetByCodeForUpdate(code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

// Create 创建优惠券
func (r *GormCouponRepository) Create(coupon *models.Coupon) error {
	return r.db.Create(coupon).Error
}

// Update 更新优惠券
func (r *GormCouponRepository) Update(coupon *models.Coupon) error {
	return r.db.Save(coupon).Error
}

// ExistsByTemplateAndUser 用户是否已领取过该模板
func (r *GormCouponRepository) ExistsByTemplateAndUser(templateID uint, userID string) (bool, error) {
	var count int64
	if err := r.db.Model(&models.Coupon{}).
		Where("coupon_template_id = ? AND user_id = ?", templateID, userID).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateBatchIgnoreConflicts 批量写入，(模板, 用户) 冲突的行跳过，返回实际写入行数
func (r *GormCouponRepository) CreateBatchIgnoreConflicts(coupons []*models.Coupon) (int64, error) {
	if len(coupons) == 0 {
		return 0, nil
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "coupon_template_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).
		CreateInBatches(coupons, insertBatchSize(r.db, couponInsertColumns))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// List 获取优惠券列表
func (r *GormCouponRepository) List(filter CouponListFilter) ([]models.Coupon, int64, error) {
	var coupons []models.Coupon
	query := r.db.Model(&models.Coupon{})

	if filter.PartnerID > 0 {
		query = query.Where("partner_id = ?", filter.PartnerID)
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if filter.TemplateID > 0 {
		query = query.Where("coupon_template_id = ?", filter.TemplateID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	if err := query.Order("id desc").Find(&coupons).Error; err != nil {
		return nil, 0, err
	}
	return coupons, total, nil
}

// CountByTemplate 统计模板已写入的券数量
func (r *GormCouponRepository) CountByTemplate(templateID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Coupon{}).
		Where("coupon_template_id = ?", templateID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
