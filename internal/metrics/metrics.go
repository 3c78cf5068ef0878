// Package metrics holds the Prometheus instruments of the detection pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ids"

var (
	PacketsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_captured_total",
		Help:      "Packets decoded by the packet source.",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Malformed or truncated frames skipped by the packet source.",
	})

	FlowsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "flows_active",
		Help:      "Flows currently buffering in the flow table.",
	})

	FlowsReady = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_ready_total",
		Help:      "Flows handed to classification, by reason.",
	}, []string{"reason"})

	ReadyShed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ready_shed_total",
		Help:      "Ready flows dropped because the classification queue was full.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ready_queue_depth",
		Help:      "Ready flows waiting for a classification worker.",
	})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verdicts_total",
		Help:      "Verdicts produced, by outcome.",
	}, []string{"outcome"})

	ClassificationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_errors_total",
		Help:      "Flows that could not be classified, by stage.",
	}, []string{"stage"})

	ClassificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classification_seconds",
		Help:      "Time spent extracting, scoring and evaluating one flow.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Alerts delivered, by notifier.",
	}, []string{"notifier"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Alerts dropped after exhausting retries or on a full queue, by notifier.",
	}, []string{"notifier"})
)
