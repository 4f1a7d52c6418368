package server

import (
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	healthCacheDuration = time.Second
	healthTimeout       = 5 * time.Second
)

// healthHandler reports 200 when every check passes and 503 otherwise
func healthHandler(checks ...health.Check) http.Handler {
	opts := []health.CheckerOption{
		health.WithCacheDuration(healthCacheDuration),
		health.WithTimeout(healthTimeout),
	}
	for _, c := range checks {
		opts = append(opts, health.WithCheck(c))
	}
	return health.NewHandler(health.NewChecker(opts...))
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
