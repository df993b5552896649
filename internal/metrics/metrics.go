// Package metrics exposes correo's runtime counters as Prometheus
// metrics, replacing chasquid's home-grown expvar-based instrumentation
// (internal/expvarom) with github.com/prometheus/client_golang.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CommandCount counts SMTP commands received, by command verb.
var CommandCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "correo",
		Subsystem: "smtpin",
		Name:      "command_count",
		Help:      "count of SMTP commands received, by command",
	},
	[]string{"command"},
)

// ResponseCodeCount counts response codes returned to SMTP commands.
var ResponseCodeCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "correo",
		Subsystem: "smtpin",
		Name:      "response_code_count",
		Help:      "response codes returned to SMTP commands",
	},
	[]string{"code"},
)

// TLSCount counts TLS usage in incoming connections, by status. Only
// STARTTLS upgrades are recorded (status "starttls"); plain connections
// and connections on TLS-wrapped sockets are not counted.
var TLSCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "correo",
		Subsystem: "smtpin",
		Name:      "tls_count",
		Help:      "count of TLS usage in incoming connections",
	},
	[]string{"status"},
)

// AuthCount counts AUTH PLAIN attempts, by outcome (ok, failed, malformed).
var AuthCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "correo",
		Subsystem: "smtpin",
		Name:      "auth_count",
		Help:      "count of AUTH PLAIN attempts, by outcome",
	},
	[]string{"result"},
)

// ErrorBudgetClosed counts connections closed for exceeding the
// consecutive-error budget.
var ErrorBudgetClosed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "correo",
		Subsystem: "smtpin",
		Name:      "error_budget_closed",
		Help:      "count of connections closed for too many consecutive errors",
	},
)

func init() {
	prometheus.MustRegister(CommandCount, ResponseCodeCount, TLSCount,
		AuthCount, ErrorBudgetClosed)
}

// Handler returns the HTTP handler that serves the metrics in the
// Prometheus text exposition format, for mounting on a monitoring
// server's mux (e.g. under "/metrics").
func Handler() http.Handler {
	return promhttp.Handler()
}
