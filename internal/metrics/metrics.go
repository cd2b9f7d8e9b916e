// Package metrics 提供 eidos-bridge 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eidos_bridge"

// 验证指标
var (
	// AttestationsTotal 验证者提交总数
	AttestationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_total",
			Help:      "验证者提交总数",
		},
		[]string{"event_type", "result", "reason"}, // result: accepted/rejected/error
	)

	// LockWaitDuration 事件锁等待耗时
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "事件锁等待耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// 状态机指标
var (
	// StateTransitionsTotal 状态迁移总数
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "状态迁移总数",
		},
		[]string{"event_type", "from", "to"},
	)

	// RollbacksTotal 回滚总数
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "回滚总数",
		},
		[]string{"event_type"},
	)
)

// 签名指标
var (
	// SigningRequestsTotal 签名请求总数
	SigningRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_requests_total",
			Help:      "签名请求总数",
		},
		[]string{"status"}, // requested, signed, failed, expired
	)

	// SigningLatency 签名往返耗时
	SigningLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signing_latency_seconds",
			Help:      "签名请求到结果的耗时(秒)",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// 结算指标
var (
	// SettlementBatchesTotal 国库结算批次总数
	SettlementBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_batches_total",
			Help:      "国库结算批次总数",
		},
		[]string{"result"}, // built, skipped, confirmed
	)

	// SettlementFee 结算交易矿工费
	SettlementFee = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_fee_sats",
			Help:      "结算交易矿工费(聪)",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 10),
		},
	)
)

// Kafka 指标
var (
	// KafkaMessagesTotal Kafka 消息总数
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_total",
			Help:      "Kafka 消息总数",
		},
		[]string{"topic", "direction", "status"}, // direction: produce/consume
	)
)

// HTTP 指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
