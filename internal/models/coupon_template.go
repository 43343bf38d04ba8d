package models

import (
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"
)

// CouponTemplate 优惠券模板（定义折扣规则、发放总量与有效期）
type CouponTemplate struct {
	ID                uint      `gorm:"primarykey" json:"id"`                                        // 主键
	PartnerID         uint      `gorm:"index;not null" json:"partner_id"`                            // 所属合作方
	Name              string    `gorm:"size:100;not null" json:"name"`                               // 名称
	CouponType        string    `gorm:"size:20;not null" json:"coupon_type"`                         // 类型（fixed/percentage）
	DiscountValue     Money     `gorm:"type:decimal(20,2);not null" json:"discount_value"`           // 折扣数值
	MaxDiscountAmount *Money    `gorm:"type:decimal(20,2)" json:"max_discount_amount"`               // 最大优惠金额（为空不限制）
	MinOrderAmount    Money     `gorm:"type:decimal(20,2);not null;default:0" json:"min_order_amount"` // 使用门槛
	TotalQuantity     *int      `json:"total_quantity"`                                              // 发放总量（为空不限量）
	IssuedQuantity    int       `gorm:"not null;default:0" json:"issued_quantity"`                   // 已发放数量
	ValidFrom         time.Time `gorm:"not null;index" json:"valid_from"`                            // 发放开始时间
	ValidUntil        time.Time `gorm:"not null;index" json:"valid_until"`                           // 发放截止时间（不含）
	AuditFields
}

// TableName 指定表名
func (CouponTemplate) TableName() string {
	return "coupon_templates"
}

// HasUnlimitedQuota 是否不限量
func (t *CouponTemplate) HasUnlimitedQuota() bool {
	return t.TotalQuantity == nil
}

// IsIssuableAt 判断时间点是否处于发放窗口 [ValidFrom, ValidUntil)
func (t *CouponTemplate) IsIssuableAt(now time.Time) bool {
	return !now.Before(t.ValidFrom) && now.Before(t.ValidUntil)
}

// OwnedBy 判断模板是否属于合作方
func (t *CouponTemplate) OwnedBy(partnerID uint) bool {
	return t.PartnerID == partnerID
}

// CanIssue 是否仍有余量
func (t *CouponTemplate) CanIssue() bool {
	if t.HasUnlimitedQuota() {
		return true
	}
	return t.IssuedQuantity < *t.TotalQuantity
}

// IncreaseIssued 已发放数量加一，超出总量时返回 ErrCouponQuotaExceeded
func (t *CouponTemplate) IncreaseIssued() error {
	if !t.CanIssue() {
		return ErrCouponQuotaExceeded
	}
	t.IssuedQuantity++
	return nil
}

// IsPercentage 是否为百分比折扣
func (t *CouponTemplate) IsPercentage() bool {
	return t.CouponType == constants.CouponTypePercentage
}
