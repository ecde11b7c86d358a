// Package metrics exposes Prometheus counters for the login flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for callback outcomes.
type Metrics struct {
	Callbacks *prometheus.CounterVec
	Logins    prometheus.Counter
	Connects  prometheus.Counter
}

// New registers the flow collectors on reg and returns them. Outcome labels:
// ok, access_denied, not_found, provider_error, user_cancelled,
// exchange_failed, registration_blocked, pending_approval, uid_mismatch.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openid_connect",
			Name:      "callbacks_total",
			Help:      "Redirect callbacks processed, by outcome.",
		}, []string{"outcome"}),
		Logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openid_connect",
			Name:      "logins_total",
			Help:      "Successful logins via an identity provider.",
		}),
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openid_connect",
			Name:      "connects_total",
			Help:      "Successful subject-to-account connects.",
		}),
	}
	reg.MustRegister(m.Callbacks, m.Logins, m.Connects)
	return m
}

// NewUnregistered returns collectors without registering them; used in tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
