// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package observability exposes Prometheus metrics for the chat service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangesTotal counts finished exchanges by terminal status
	// ("success", "cancel", "error").
	ExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gcchat",
		Name:      "exchanges_total",
		Help:      "Finished chat exchanges by terminal status.",
	}, []string{"status"})

	// ExchangeDuration observes full exchange latency, retrieval and
	// streaming included.
	ExchangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gcchat",
		Name:      "exchange_duration_seconds",
		Help:      "Wall time of a full chat exchange.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// MessageSources observes how many resolved source documents each
	// assistant message ended up citing. Zero means an uncited answer.
	MessageSources = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gcchat",
		Name:      "message_sources",
		Help:      "Resolved source documents per assistant message.",
		Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12},
	})

	// FeedbackTotal counts recorded feedback, labeled "positive" or
	// "negative".
	FeedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gcchat",
		Name:      "feedback_total",
		Help:      "Recorded message feedback by direction.",
	}, []string{"direction"})
)

// ObserveExchange records one finished exchange.
func ObserveExchange(status string, started time.Time, sources int) {
	ExchangesTotal.WithLabelValues(status).Inc()
	ExchangeDuration.Observe(time.Since(started).Seconds())
	MessageSources.Observe(float64(sources))
}
