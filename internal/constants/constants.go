package constants

// 优惠券状态常量
const (
	CouponStatusAvailable = "AVAILABLE"
	CouponStatusUsed      = "USED"
)

// 优惠券类型常量
const (
	CouponTypeFixed      = "fixed"
	CouponTypePercentage = "percentage"
)

// 合作方状态常量
const (
	PartnerStatusActive   = "active"
	PartnerStatusDisabled = "disabled"
)

// 队列常量
const (
	QueueDefault     = "default"
	QueueCouponIssue = "coupon_issue"
	TaskCouponIssue  = "coupon:issue"
)

// 队列驱动常量
const (
	QueueDriverAsynq = "asynq"
	QueueDriverKafka = "kafka"
)

// Kafka 默认主题常量
const (
	KafkaTopicCouponIssue           = "coupon.issue"
	KafkaTopicCouponIssueDeadLetter = "coupon.issue.dlt"
	KafkaGroupCouponIssue           = "coupon-issue-buffer"
	KafkaGroupCouponIssueDeadLetter = "coupon-issue-dlt-logger"
)

// 发放批处理默认值
const (
	ReconcileIntervalSecondsDefault = 10
	ReconcileChunkSizeDefault       = 5000
)

// 请求头常量
const (
	HeaderPartnerAPIKey = "X-API-KEY"
)

// 上下文键常量
const (
	ContextKeyPartnerID = "partner_id"
)
