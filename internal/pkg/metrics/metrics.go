// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kiosk"

var (
	// OrderEvents 按事件名统计成功持久化并发布的订单事件。
	OrderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_events_total",
		Help:      "Order events published after a successful write.",
	}, []string{"event"})

	// SubscriberFailures 统计事件订阅者返回错误或 panic 的次数。
	SubscriberFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_subscriber_failures_total",
		Help:      "Event bus handler errors and recovered panics.",
	}, []string{"event"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Payment gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Payment gateway call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	TimeoutChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timeout_checks_total",
		Help:      "Fired timeout checks by kind and outcome.",
	}, []string{"kind", "outcome"})

	PushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "push_connections",
		Help:      "Open websocket connections.",
	})

	PushedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_messages_total",
		Help:      "Messages queued to websocket connections.",
	}, []string{"target"})
)
