package observability

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"p2pmarket/core/events"
	coreerrors "p2pmarket/core/errors"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	marketMetricsOnce sync.Once
	marketRegistry    *MarketEngineMetrics

	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2pmarket",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an RPC request. code is the JSON-RPC error
// code, or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// MarketEngineMetrics captures the market engine's operation outcomes.
type MarketEngineMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	resolved      *prometheus.CounterVec
	escalations   prometheus.Counter
	compensations *prometheus.CounterVec
}

// MarketMetrics returns the singleton metrics registry for the market engine.
func MarketMetrics() *MarketEngineMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketEngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of market operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2pmarket",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "engine",
				Name:      "deals_resolved_total",
				Help:      "Count of resolved deals segmented by outcome and resolving party.",
			}, []string{"outcome", "by"}),
			escalations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "engine",
				Name:      "escalations_total",
				Help:      "Count of deals escalated to their auditor.",
			}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "engine",
				Name:      "custody_compensations_total",
				Help:      "Count of custody movements reversed after a failed operation.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.resolved,
			marketRegistry.escalations,
			marketRegistry.compensations,
		)
	})
	return marketRegistry
}

// Outcome maps an operation error to a stable metric label: "ok", the
// taxonomy kind for rejections, or "error" for anything else.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, kind := range []struct {
		err   error
		label string
	}{
		{coreerrors.ErrInvalidAsset, "invalid_asset"},
		{coreerrors.ErrInvalidAmount, "invalid_amount"},
		{coreerrors.ErrOfferClosed, "offer_closed"},
		{coreerrors.ErrNotPartial, "not_partial"},
		{coreerrors.ErrBelowMinDeal, "below_min_deal"},
		{coreerrors.ErrAboveMaxDeal, "above_max_deal"},
		{coreerrors.ErrReputationTooLow, "reputation_too_low"},
		{coreerrors.ErrUnauthorized, "unauthorized"},
		{coreerrors.ErrNotPending, "not_pending"},
		{coreerrors.ErrLocked, "locked"},
		{coreerrors.ErrCustodyRejected, "custody_rejected"},
		{coreerrors.ErrPaused, "paused"},
		{coreerrors.ErrOfferNotFound, "not_found"},
		{coreerrors.ErrDealNotFound, "not_found"},
		{coreerrors.ErrInvalidVote, "invalid_vote"},
		{coreerrors.ErrNotEscalated, "not_escalated"},
		{coreerrors.ErrInvalidAuditor, "invalid_auditor"},
		{coreerrors.ErrInvalidMetadata, "invalid_metadata"},
	} {
		if errors.Is(err, kind.err) {
			return kind.label
		}
	}
	return "error"
}

// ObserveOperation records one market operation.
func (m *MarketEngineMetrics) ObserveOperation(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordResolution counts a resolved deal.
func (m *MarketEngineMetrics) RecordResolution(success, byAuditor bool) {
	if m == nil {
		return
	}
	outcome, by := "failed", "parties"
	if success {
		outcome = "success"
	}
	if byAuditor {
		by = "auditor"
	}
	m.resolved.WithLabelValues(outcome, by).Inc()
}

// RecordEscalation counts a deal handed to its auditor.
func (m *MarketEngineMetrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RecordCompensation counts a reversed custody movement. ok is false when the
// reversal itself failed.
func (m *MarketEngineMetrics) RecordCompensation(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

// Events returns the metrics registry tracking emitted market records.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pmarket",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed market records segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can sit in an emitter fanout.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}
