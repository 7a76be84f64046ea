// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citechat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citechat_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"route"},
	)

	// Streaming metrics
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citechat_stream_events_total",
			Help: "Total number of interpreted snapshots sent to chat clients",
		},
		[]string{"transport"}, // ndjson, websocket
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citechat_stream_duration_seconds",
			Help:    "Duration of proxied chat answers",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"transport", "outcome"}, // outcome: ok, error
	)

	// Answer shape metrics
	CitationsPerAnswer = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citechat_answer_citations",
			Help:    "Citations per finished answer",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	FollowupsPerAnswer = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citechat_answer_followups",
			Help:    "Follow-up questions per finished answer",
			Buckets: []float64{0, 1, 2, 3, 5},
		},
	)
)

// MetricsMiddleware records request counts and latency by route pattern.
// It must wrap the mux so the matched pattern is known when it returns.
func MetricsMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			RequestsTotal.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
			RequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

// observeAnswer records the shape of a finished answer.
func observeAnswer(resp ParseResponse) {
	CitationsPerAnswer.Observe(float64(len(resp.Citations)))
	FollowupsPerAnswer.Observe(float64(len(resp.Followups)))
}
