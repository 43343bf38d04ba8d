package service

import (
	"errors"

	"github.com/Do1K/b2b-point-service/internal/cache"
	"github.com/Do1K/b2b-point-service/internal/models"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrCouponTemplateInvalid  = errors.New("coupon template is invalid")
	ErrPartnerNotFound        = errors.New("partner not found")
	ErrPartnerDisabled        = errors.New("partner disabled")
	ErrCouponNotFound         = errors.New("coupon not found")
	ErrForbidden              = models.ErrCouponForbidden
	ErrCouponOwnerMismatch    = models.ErrCouponOwnerMismatch
	ErrCouponTemplateNotFound = models.ErrCouponTemplateNotFound
	ErrCouponNotInIssuePeriod = models.ErrCouponNotInIssuePeriod
	ErrCouponExpired          = models.ErrCouponExpired
	ErrCouponAlreadyIssued    = errors.New("coupon already issued to user")
	ErrCouponAlreadyUsed      = models.ErrCouponAlreadyUsed
	ErrCouponQuotaExceeded    = models.ErrCouponQuotaExceeded
	ErrCouponMinOrderAmount   = errors.New("order amount below coupon minimum")
	ErrMessagingSystem        = errors.New("messaging system unavailable")
	ErrTemplateCacheBusy      = cache.ErrTemplateCacheBusy
)
