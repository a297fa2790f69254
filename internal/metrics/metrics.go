package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg           *prometheus.Registry
	Admissions    *prometheus.CounterVec
	Jobs          *prometheus.CounterVec
	JobLatencySec prometheus.Histogram
	Compensations *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_admissions_total",
		Help: "Purchase admissions by result.",
	}, []string{"result"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_jobs_total",
		Help: "Order job deliveries by outcome.",
	}, []string{"outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashsale_job_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_counter_compensations_total",
		Help: "Fast counter restorations by cause.",
	}, []string{"cause"})

	r.MustRegister(admissions, jobs, latency, compensations)
	return &Registry{
		reg:           r,
		Admissions:    admissions,
		Jobs:          jobs,
		JobLatencySec: latency,
		Compensations: compensations,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
