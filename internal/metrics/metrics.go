// Package metrics содержит метрики Prometheus сервиса подбора доноров.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/pulsebank/internal/model"
)

// Исходы запроса подбора.
const (
	OutcomeMatched = "matched"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Collector объединяет метрики HTTP-слоя и движка подбора.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	MatchRequests *prometheus.CounterVec
	MatchPoolSize prometheus.Histogram
	MatchResults  prometheus.Histogram

	ActiveDonors *prometheus.GaugeVec
}

// NewCollector регистрирует метрики в reg; nil означает глобальный реестр.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}))
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"}))
	if err != nil {
		return nil, err
	}

	matchRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_requests_total",
		Help: "Total number of donor matching requests, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	poolSize, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_pool_size",
		Help:    "Number of candidate donors loaded per matching request.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}))
	if err != nil {
		return nil, err
	}

	results, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_results",
		Help:    "Number of ranked donors returned per matching request.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	}))
	if err != nil {
		return nil, err
	}

	active, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "active_donors",
		Help: "Current number of active donors, labeled by blood type.",
	}, []string{"blood_type"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		HTTPRequests:  requests,
		HTTPDurations: durations,
		MatchRequests: matchRequests,
		MatchPoolSize: poolSize,
		MatchResults:  results,
		ActiveDonors:  active,
	}, nil
}

// Handler возвращает обработчик /metrics.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveHTTP учитывает один обработанный HTTP-запрос.
func (c *Collector) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveMatch учитывает результат запроса подбора.
func (c *Collector) ObserveMatch(outcome string, poolSize, results int) {
	if c == nil {
		return
	}
	c.MatchRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeMatched || outcome == OutcomeEmpty {
		c.MatchPoolSize.Observe(float64(poolSize))
		c.MatchResults.Observe(float64(results))
	}
}

// SetActiveDonors выставляет значения gauge по всем группам крови.
func (c *Collector) SetActiveDonors(counts map[model.BloodType]int) {
	if c == nil {
		return
	}
	for _, bt := range model.BloodTypes {
		c.ActiveDonors.WithLabelValues(string(bt)).Set(float64(counts[bt]))
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
