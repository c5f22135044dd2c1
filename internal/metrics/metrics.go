package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exported via /metrics on the API server.
var (
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_codes_issued_total",
		Help: "Verification codes issued.",
	})
	CodeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_code_collisions_total",
		Help: "Code draws discarded due to an active-code collision.",
	})
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Successful code check-ins recorded.",
	})
	Overrides = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_overrides_total",
		Help: "Manual staff status overrides applied.",
	})
	AbsentMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_reconcile_absent_total",
		Help: "ABSENT records back-filled by the reconciliation sweep.",
	})
	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_reconcile_runs_total",
		Help: "Reconciliation sweeps executed.",
	})
	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_reconcile_failures_total",
		Help: "Per-student failures during reconciliation sweeps.",
	})
)
