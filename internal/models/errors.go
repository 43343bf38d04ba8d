package models

import "errors"

var (
	ErrCouponTemplateNotFound = errors.New("coupon template not found")
	ErrCouponQuotaExceeded    = errors.New("coupon quota exceeded")
	ErrCouponNotInIssuePeriod = errors.New("coupon template is not in issue period")
	ErrCouponForbidden        = errors.New("partner does not own the resource")
	ErrCouponOwnerMismatch    = errors.New("coupon owner mismatch")
	ErrCouponAlreadyUsed      = errors.New("coupon already used")
	ErrCouponExpired          = errors.New("coupon expired")
)
