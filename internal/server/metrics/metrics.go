// Package metrics exposes Prometheus counters for the get-key flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "getkey"

// Recorder owns the flow counters. A nil *Recorder records nothing.
type Recorder struct {
	sessionsStarted      prometheus.Counter
	checkpointsCompleted prometheus.Counter
	challenges           *prometheus.CounterVec
	credentialsIssued    prometheus.Counter
	rejections           *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Number of get-key sessions created.",
		}),
		checkpointsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_completed_total",
			Help:      "Number of checkpoints newly recorded on a session.",
		}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Challenge verifications by result.",
		}, []string{"result"}),
		credentialsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Number of license keys issued through the public flow.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected get-key calls by operation and error kind.",
		}, []string{"operation", "kind"}),
	}
	reg.MustRegister(r.sessionsStarted, r.checkpointsCompleted, r.challenges, r.credentialsIssued, r.rejections)
	return r
}

func (r *Recorder) SessionStarted() {
	if r != nil {
		r.sessionsStarted.Inc()
	}
}

func (r *Recorder) CheckpointCompleted() {
	if r != nil {
		r.checkpointsCompleted.Inc()
	}
}

// Challenge records a verification outcome ("passed", "failed" or "error").
func (r *Recorder) Challenge(result string) {
	if r != nil {
		r.challenges.WithLabelValues(result).Inc()
	}
}

func (r *Recorder) CredentialIssued() {
	if r != nil {
		r.credentialsIssued.Inc()
	}
}

func (r *Recorder) Rejected(operation, kind string) {
	if r != nil {
		r.rejections.WithLabelValues(operation, kind).Inc()
	}
}
