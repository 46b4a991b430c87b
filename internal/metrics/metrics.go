// Package metrics exposes lifecycle counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	registry      *prometheus.Registry
	votes         *prometheus.CounterVec
	approvals     prometheus.Counter
	transitions   *prometheus.CounterVec
	provisioning  *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideaforge",
			Name:      "votes_total",
			Help:      "Votes cast, by direction.",
		}, []string{"direction"}),
		approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ideaforge",
			Name:      "ideas_approved_total",
			Help:      "Ideas that crossed the approval threshold.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideaforge",
			Name:      "idea_transitions_total",
			Help:      "Committed idea status transitions.",
		}, []string{"from", "to"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideaforge",
			Name:      "provisioning_total",
			Help:      "Provisioning attempts, by outcome.",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideaforge",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries, by event type and outcome.",
		}, []string{"event", "outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ideaforge",
			Name:      "auth_failures_total",
			Help:      "Rejected signed requests, by reason.",
		}, []string{"reason"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ideaforge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.votes, r.approvals, r.transitions, r.provisioning, r.webhookEvents, r.authFailures, r.httpDuration,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) VoteCast(direction string) { r.votes.WithLabelValues(direction).Inc() }

func (r *Registry) IdeaApproved() { r.approvals.Inc() }

func (r *Registry) Transition(from, to string) { r.transitions.WithLabelValues(from, to).Inc() }

// Provisioned records one of: created, creation_failed, webhook_failed.
func (r *Registry) Provisioned(outcome string) { r.provisioning.WithLabelValues(outcome).Inc() }

func (r *Registry) WebhookEvent(event, outcome string) {
	r.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (r *Registry) AuthFailure(reason string) { r.authFailures.WithLabelValues(reason).Inc() }

func (r *Registry) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
