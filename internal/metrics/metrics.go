package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wspush"

// Upgrade results recorded by RouteMetrics.Upgrade.
const (
	ResultAccepted = "accepted"
	ResultFailed   = "failed"
)

// RouteMetrics holds the collectors for a single route.
type RouteMetrics struct {
	upgrades        *prometheus.CounterVec
	active          prometheus.Gauge
	handlerFailures prometheus.Counter
}

// NewRouteMetrics creates the collectors for the route serving path and
// registers them with reg. A nil reg leaves them unregistered. When reg already
// holds collectors for the same path, those are reused.
func NewRouteMetrics(reg prometheus.Registerer, path string) (*RouteMetrics, error) {
	labels := prometheus.Labels{"path": path}

	m := &RouteMetrics{
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "upgrades_total",
			Help:        "WebSocket upgrade attempts on a push route, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "active_connections",
			Help:        "Connections whose handler is currently running.",
			ConstLabels: labels,
		}),
		handlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handler_failures_total",
			Help:        "Connection handlers that returned an error or panicked.",
			ConstLabels: labels,
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.upgrades, err = register(reg, m.upgrades); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, err
	}
	if m.handlerFailures, err = register(reg, m.handlerFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register route metrics")
	}
	return c, nil
}

// Upgrade counts one upgrade attempt with the given result.
func (m *RouteMetrics) Upgrade(result string) {
	m.upgrades.WithLabelValues(result).Inc()
}

// ConnectionStarted marks a handler as running.
func (m *RouteMetrics) ConnectionStarted() {
	m.active.Inc()
}

// ConnectionFinished marks a handler as terminated; failed counts a handler failure.
func (m *RouteMetrics) ConnectionFinished(failed bool) {
	m.active.Dec()
	if failed {
		m.handlerFailures.Inc()
	}
}

// Upgrades returns the upgrade counter, for inspection in tests.
func (m *RouteMetrics) Upgrades() *prometheus.CounterVec {
	return m.upgrades
}

// Active returns the active connection gauge.
func (m *RouteMetrics) Active() prometheus.Gauge {
	return m.active
}

// HandlerFailures returns the handler failure counter.
func (m *RouteMetrics) HandlerFailures() prometheus.Counter {
	return m.handlerFailures
}
