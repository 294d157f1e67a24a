package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submissions - terminal submission results by outcome.
var Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "faers",
	Name:      "submissions_total",
	Help:      "Terminal submission results, labeled by outcome.",
}, []string{"outcome"})

// Retries - automatic in-loop retries.
var Retries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "faers",
	Name:      "submission_retries_total",
	Help:      "Automatic retries performed inside the submission loop.",
})

// PollCycles - completed acknowledgment poll cycles.
var PollCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "faers",
	Name:      "poll_cycles_total",
	Help:      "Completed acknowledgment poll cycles.",
})

// Acknowledgments - received acknowledgments by type.
var Acknowledgments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "faers",
	Name:      "acknowledgments_total",
	Help:      "Acknowledgments received from the remote system, by type.",
}, []string{"type"})

// TokenRefreshes - token refresh calls against the auth endpoint.
var TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "faers",
	Name:      "token_refreshes_total",
	Help:      "Client-credentials token refreshes.",
})
