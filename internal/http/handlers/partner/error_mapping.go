package partner

import (
	"errors"

	"github.com/Do1K/b2b-point-service/internal/http/response"
	"github.com/Do1K/b2b-point-service/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	key    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.key, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackKey, err)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

var couponCommonErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidInput, code: response.CodeBadRequest, key: "error.bad_request"},
	{target: service.ErrCouponTemplateInvalid, code: response.CodeBadRequest, key: "error.coupon_template_invalid"},
	{target: service.ErrForbidden, code: response.CodeForbidden, key: "error.forbidden"},
	{target: service.ErrCouponTemplateNotFound, code: response.CodeNotFound, key: "error.coupon_template_not_found"},
}

var couponIssueErrorRules = []mappedHandlerError{
	{target: service.ErrCouponNotInIssuePeriod, code: response.CodeUnprocessable, key: "error.coupon_not_in_issue_period"},
	{target: service.ErrCouponAlreadyIssued, code: response.CodeConflict, key: "error.coupon_already_issued"},
	{target: service.ErrCouponQuotaExceeded, code: response.CodeQuotaExhausted, key: "error.coupon_quota_exceeded"},
	{target: service.ErrMessagingSystem, code: response.CodeServiceUnavailable, key: "error.messaging_unavailable"},
	{target: service.ErrTemplateCacheBusy, code: response.CodeServiceUnavailable, key: "error.template_cache_busy"},
}

var couponUseErrorRules = []mappedHandlerError{
	{target: service.ErrCouponNotFound, code: response.CodeNotFound, key: "error.coupon_not_found"},
	{target: service.ErrCouponOwnerMismatch, code: response.CodeForbidden, key: "error.coupon_owner_mismatch"},
	{target: service.ErrCouponExpired, code: response.CodeUnprocessable, key: "error.coupon_expired"},
	{target: service.ErrCouponAlreadyUsed, code: response.CodeConflict, key: "error.coupon_already_used"},
	{target: service.ErrCouponMinOrderAmount, code: response.CodeBadRequest, key: "error.coupon_min_order_amount"},
}

func respondTemplateCreateError(c *gin.Context, err error) {
	respondWithMappedError(c, err, couponCommonErrorRules, response.CodeInternal, "error.coupon_template_create_failed")
}

func respondCouponIssueError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(couponCommonErrorRules, couponIssueErrorRules), response.CodeInternal, "error.coupon_issue_failed")
}

func respondCouponUseError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(couponCommonErrorRules, couponUseErrorRules), response.CodeInternal, "error.coupon_use_failed")
}

func respondAdmissionError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(couponCommonErrorRules, couponIssueErrorRules), response.CodeInternal, "error.admission_fetch_failed")
}
