// ABOUTME: Prometheus metrics for commands, flow outcomes and pending replies
// ABOUTME: Registered on the default registry and served at the bot's metrics path

// Package metrics defines the Prometheus metrics exported by policebot.
// All metrics are registered with the default registry on package init and
// served by the bot's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "policebot"

// ── Command metrics ──────────────────────────────────────────────────────────

// CommandsTotal counts commands accepted by the router.
// Label:
//   - command: canonical command name (e.g. "authenticate", "add_lock")
var CommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Total number of commands handled, by command.",
	},
	[]string{"command"},
)

// CommandErrorsTotal counts commands that failed with an unexpected error.
var CommandErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "command_errors_total",
		Help:      "Total number of commands that ended in an unexpected error.",
	},
	[]string{"command"},
)

// CooldownRejectionsTotal counts authentication attempts refused by the cooldown.
var CooldownRejectionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cooldown_rejections_total",
		Help:      "Total number of authentication attempts refused because the user was on cooldown.",
	},
)

// ── Flow metrics ─────────────────────────────────────────────────────────────

// OutcomesTotal counts terminal outcomes of the gatekeeper flows.
// Labels:
//   - flow: "authenticate", "create_lock" or "remove_lock"
//   - outcome: outcome name (e.g. "verified", "denied", "timed_out")
var OutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outcomes_total",
		Help:      "Total number of finished flows, by flow and outcome.",
	},
	[]string{"flow", "outcome"},
)

// RoleGrantFailuresTotal counts individual role grants that failed after a verified password.
var RoleGrantFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_grant_failures_total",
		Help:      "Total number of role grants that failed after successful verification.",
	},
)

// FlowDuration measures how long a flow ran, including time spent waiting for replies.
var FlowDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flow_duration_seconds",
		Help:      "Duration of gatekeeper flows from start to terminal outcome.",
		Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"flow"},
)

// PendingReplies tracks flows currently suspended waiting for a reply.
var PendingReplies = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_replies",
		Help:      "Number of flows currently waiting for a user reply.",
	},
)
