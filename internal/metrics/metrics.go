//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package metrics holds the process-wide Prometheus instruments. Everything is
// registered on the default registry and served by the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts runs that emitted runStarted.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clawdini",
		Name:      "runs_started_total",
		Help:      "Workflow runs started.",
	})

	// RunsTerminated counts terminal run events by outcome
	// (completed, cancelled, error).
	RunsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawdini",
		Name:      "runs_terminated_total",
		Help:      "Workflow runs terminated, labelled by outcome.",
	}, []string{"outcome"})

	// NodeExecutions counts node dispatches by kind and outcome
	// (completed, error, aborted).
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawdini",
		Name:      "node_executions_total",
		Help:      "Node executions, labelled by node kind and outcome.",
	}, []string{"kind", "outcome"})

	// GatewayRequestDuration observes gateway RPC round-trip latency.
	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clawdini",
		Name:      "gateway_request_duration_seconds",
		Help:      "Gateway RPC latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// EventSubscribers gauges currently attached run-event subscribers.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clawdini",
		Name:      "event_subscribers",
		Help:      "Currently attached run event subscribers.",
	})
)
