package models

import (
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"

	"github.com/google/uuid"
)

// Coupon 已发放的优惠券
type Coupon struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                                       // 主键
	Code             string     `gorm:"size:64;uniqueIndex;not null" json:"code"`                                   // 券码
	PartnerID        uint       `gorm:"not null;index:idx_coupon_partner_user,priority:1" json:"partner_id"`        // 所属合作方
	UserID           string     `gorm:"size:128;not null;index:idx_coupon_partner_user,priority:2;uniqueIndex:idx_coupon_template_user,priority:2" json:"user_id"` // 持有用户
	CouponTemplateID uint       `gorm:"not null;uniqueIndex:idx_coupon_template_user,priority:1" json:"coupon_template_id"` // 来源模板
	Status           string     `gorm:"size:20;not null;index" json:"status"`                                       // 状态（AVAILABLE/USED）
	IssuedAt         time.Time  `gorm:"not null" json:"issued_at"`                                                  // 发放时间
	ExpiredAt        time.Time  `gorm:"not null;index" json:"expired_at"`                                           // 过期时间（发放时从模板复制）
	UsedAt           *time.Time `json:"used_at"`                                                                    // 使用时间
	UsedOrderID      string     `gorm:"size:64" json:"used_order_id,omitempty"`                                     // 使用订单号
	AuditFields
}

// TableName 指定表名
func (Coupon) TableName() string {
	return "coupons"
}

// NewCoupon 直发路径：按模板为用户生成一张可用券
func NewCoupon(template *CouponTemplate, userID string, now time.Time) *Coupon {
	return NewIssuedCoupon(template.PartnerID, template.ID, userID, template.ValidUntil, now)
}

// NewIssuedCoupon 批量路径：按发放消息生成一张可用券，发放时间即写入时间
func NewIssuedCoupon(partnerID, templateID uint, userID string, expiredAt, now time.Time) *Coupon {
	coupon := &Coupon{
		Code:             newCouponCode(),
		PartnerID:        partnerID,
		UserID:           userID,
		CouponTemplateID: templateID,
		Status:           constants.CouponStatusAvailable,
		IssuedAt:         now,
		ExpiredAt:        expiredAt,
	}
	coupon.Touch(now)
	return coupon
}

// IsAvailable 是否可用
func (c *Coupon) IsAvailable() bool {
	return c.Status == constants.CouponStatusAvailable
}

// IsExpiredAt 判断时间点是否已过期
func (c *Coupon) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiredAt)
}

// Use 核销优惠券，状态只能由 AVAILABLE 单向变为 USED
func (c *Coupon) Use(partnerID uint, userID, orderID string, now time.Time) error {
	if c.PartnerID != partnerID {
		return ErrCouponForbidden
	}
	if c.UserID != userID {
		return ErrCouponOwnerMismatch
	}
	if !c.IsAvailable() {
		return ErrCouponAlreadyUsed
	}
	if c.IsExpiredAt(now) {
		return ErrCouponExpired
	}
	usedAt := now
	c.Status = constants.CouponStatusUsed
	c.UsedAt = &usedAt
	c.UsedOrderID = strings.TrimSpace(orderID)
	c.UpdatedAt = now
	return nil
}

func newCouponCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
