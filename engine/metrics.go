/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fossmate_deliveries_processed_total",
			Help: "Total deliveries resolved by the worker pool",
		},
		[]string{"status"},
	)

	retryCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fossmate_handler_retries_total",
			Help: "Total handler attempts beyond the first",
		},
	)

	deadLetterCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fossmate_deliveries_deadlettered_total",
			Help: "Total deliveries parked as failed after exhausting retries",
		},
	)

	queueDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fossmate_workqueue_depth",
			Help: "Buffered claims awaiting a worker",
		},
	)
)
