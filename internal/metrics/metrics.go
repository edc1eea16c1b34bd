package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event names. They become the `event` label of shuffle_events_total.
const (
	EventUserAdmitted       = "user_admitted"
	EventUserRemoved        = "user_removed"
	EventMatchFound         = "match_found"
	EventNoUserAvailable    = "no_user_available"
	EventCallStarted        = "call_started"
	EventCallEnded          = "call_ended"
	EventPartnerSkipped     = "partner_skipped"
	EventReservationExpired = "reservation_expired"
	EventTargetUnreachable  = "target_unreachable"
	EventTargetBusy         = "target_busy"
	EventSlowConsumer       = "slow_consumer"
	EventUnknownMessage     = "unknown_message"
	EventDecodeError        = "decode_error"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events   *prometheus.CounterVec
	relayed  *prometheus.CounterVec
	users    prometheus.Gauge
	sessions prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuffle",
			Name:      "events_total",
			Help:      "Signaling hub events.",
		}, []string{"event"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuffle",
			Name:      "relayed_messages_total",
			Help:      "Messages forwarded between clients, by type.",
		}, []string{"type"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shuffle",
			Name:      "connected_users",
			Help:      "Users currently connected.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shuffle",
			Name:      "sessions",
			Help:      "Pairings currently reserved or active.",
		}),
	}
	m.registry.MustRegister(m.events, m.relayed, m.users, m.sessions)
	return m
}

// Inc counts one hub event. A nil receiver is a no-op so components can run
// without metrics.
func (m *Metrics) Inc(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

// Relayed counts one forwarded message of the given type.
func (m *Metrics) Relayed(msgType string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType).Inc()
}

// SetPresence records the registry size.
func (m *Metrics) SetPresence(users, sessions int) {
	if m == nil {
		return
	}
	m.users.Set(float64(users))
	m.sessions.Set(float64(sessions))
}

// Events exposes the events counter for tests.
func (m *Metrics) Events() *prometheus.CounterVec {
	return m.events
}

// Handler serves the registry in Prometheus' text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
