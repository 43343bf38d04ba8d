package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "b2b_point"

var (
	// TemplateCacheLookups 模板缓存查询结果（hit/fill/busy/error）
	TemplateCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "template_cache",
		Name:      "lookups_total",
		Help:      "Template cache lookups by result.",
	}, []string{"result"})

	// AdmissionDecisions 发放闸门判定结果
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Admission gate decisions by result.",
	}, []string{"result"})

	// AdmissionRollbacks 发布失败导致的闸门回滚次数
	AdmissionRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "rollbacks_total",
		Help:      "Admission rollbacks after downstream failures.",
	}, []string{"result"})

	// PublishFailures 发放消息发布失败次数
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "publish_failures_total",
		Help:      "Issuance message publish failures by driver.",
	}, []string{"driver"})

	// BufferAppends 写入待处理缓冲区的消息数
	BufferAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "buffer",
		Name:      "appends_total",
		Help:      "Pending buffer appends by result.",
	}, []string{"result"})

	// BufferDepth 每轮批处理后缓冲区剩余长度
	BufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "buffer",
		Name:      "depth",
		Help:      "Pending buffer length after the latest reconcile round.",
	})

	// DeadLetters 进入死信的消息数
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "dead_letters_total",
		Help:      "Messages routed to the dead-letter destination.",
	}, []string{"transport", "reason"})

	// ReconcileRounds 批处理轮次结果
	ReconcileRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "rounds_total",
		Help:      "Batch reconcile rounds by result.",
	}, []string{"result"})

	// ReconcileEntries 批处理条目结果（inserted/duplicate/malformed/failed）
	ReconcileEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "entries_total",
		Help:      "Reconciled buffer entries by outcome.",
	}, []string{"outcome"})

	// ReconcileDuration 单轮批处理耗时
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Duration of a reconcile round.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// Handler 返回 Prometheus 抓取接口
func Handler() http.Handler {
	return promhttp.Handler()
}
