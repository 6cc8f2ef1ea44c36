// Package metrics exports room occupancy and per-event outcomes to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
	"github.com/Rojas22bt/diagamaIA-sub001/presence"
)

const namespace = "diagramsync"

type StatsSource interface {
	Stats() (rooms, clients int)
}

type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

func New(rooms StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Client events handled, by event type and result.",
		}, []string{"event", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.events,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Project rooms with at least one member.",
		}, func() float64 {
			r, _ := rooms.Stats()
			return float64(r)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_clients",
			Help:      "Connections currently in a project room.",
		}, func() float64 {
			_, c := rooms.Stats()
			return float64(c)
		}),
	)
	return m
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Observe(eventType string, err error) {
	m.events.WithLabelValues(eventLabel(eventType), Result(err)).Inc()
}

func eventLabel(eventType string) string {
	switch eventType {
	case domain.EventJoinRoom, domain.EventLeaveRoom, domain.EventDiagramChange,
		domain.EventCursorMove, domain.EventElementSelect, "ping", "invalid":
		return eventType
	default:
		return "unknown"
	}
}

// Result maps a handler error onto a bounded label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoAccess):
		return "denied"
	case errors.Is(err, domain.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, presence.ErrThrottled):
		return "throttled"
	default:
		return "error"
	}
}
