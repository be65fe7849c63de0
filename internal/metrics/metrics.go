// Package metrics holds the Prometheus counters for the sign-in engine.
// Counters are package-level so any component can record without plumbing;
// RegisterMetrics exposes them on a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// CodesIssued counts one-time codes generated, by channel.
var CodesIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signin_codes_issued_total",
		Help: "Total number of one-time codes issued",
	},
	[]string{"channel"},
)

// Verifications counts verification attempts by channel and result kind.
var Verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signin_verifications_total",
		Help: "Total number of verification attempts by channel and result",
	},
	[]string{"channel", "result"},
)

// Deliveries counts outbound code deliveries by transport and outcome.
var Deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signin_deliveries_total",
		Help: "Total number of code deliveries by transport and outcome",
	},
	[]string{"transport", "outcome"},
)

// RateLimited counts requests denied by the hourly limiter, by scope.
var RateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signin_rate_limited_total",
		Help: "Total number of requests denied by the hourly limiter",
	},
	[]string{"scope"},
)

// CredentialsIssued counts signed credentials, by channel.
var CredentialsIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "signin_credentials_issued_total",
		Help: "Total number of credentials issued",
	},
	[]string{"channel"},
)

// RegisterMetrics registers the package counters with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CodesIssued)
	reg.MustRegister(Verifications)
	reg.MustRegister(Deliveries)
	reg.MustRegister(RateLimited)
	reg.MustRegister(CredentialsIssued)
}

// NewRegistry returns a registry carrying the engine counters plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	RegisterMetrics(reg)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func RecordCodeIssued(channel string) { CodesIssued.WithLabelValues(channel).Inc() }

func RecordVerification(channel, result string) {
	Verifications.WithLabelValues(channel, result).Inc()
}

func RecordDelivery(transport string, ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	Deliveries.WithLabelValues(transport, outcome).Inc()
}

func RecordRateLimited(scope string) { RateLimited.WithLabelValues(scope).Inc() }

func RecordCredential(channel string) { CredentialsIssued.WithLabelValues(channel).Inc() }
