package shared

var messages = map[string]string{
	"error.bad_request":                   "invalid request parameters",
	"error.unauthorized":                  "missing or invalid api key",
	"error.partner_disabled":              "partner is disabled",
	"error.partner_id_invalid":            "invalid partner id",
	"error.partner_id_type_invalid":       "invalid partner id type",
	"error.forbidden":                     "operation not permitted for this partner",
	"error.coupon_owner_mismatch":         "coupon does not belong to this user",
	"error.coupon_template_invalid":       "coupon template is invalid",
	"error.coupon_template_not_found":     "coupon template not found",
	"error.coupon_not_found":              "coupon not found",
	"error.coupon_not_in_issue_period":    "coupon template is not in its issue period",
	"error.coupon_expired":                "coupon expired",
	"error.coupon_already_issued":         "coupon already issued to this user",
	"error.coupon_already_used":           "coupon already used",
	"error.coupon_quota_exceeded":         "coupon quota exhausted",
	"error.coupon_min_order_amount":       "order amount below coupon minimum",
	"error.messaging_unavailable":         "issuance queue unavailable, retry later",
	"error.template_cache_busy":           "coupon template is loading, retry later",
	"error.rate_limit_unavailable":        "rate limiter unavailable, retry later",
	"error.too_many_requests":             "too many requests",
	"error.coupon_template_create_failed": "failed to create coupon template",
	"error.coupon_issue_failed":           "failed to issue coupon",
	"error.coupon_use_failed":             "failed to use coupon",
	"error.coupon_fetch_failed":           "failed to fetch coupons",
	"error.admission_fetch_failed":        "failed to fetch admission status",
	"error.internal":                      "internal server error",
}

// Message 查找消息键对应的提示，未登记时原样返回
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}
