// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MissionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_missions_started_total",
		Help: "Missions dispatched to the conductor.",
	})
	MissionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_missions_succeeded_total",
		Help: "Missions that completed every task.",
	})
	MissionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_missions_failed_total",
		Help: "Missions abandoned after exhausting retries or stopped.",
	})
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_task_retries_total",
		Help: "Task attempts beyond the first.",
	})
	ToolRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_tool_runs_total",
		Help: "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aura_gateway_requests_total",
		Help: "LLM gateway requests by agent role.",
	}, []string{"agent"})
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aura_connected_clients",
		Help: "Live command-deck websocket connections.",
	})
)
