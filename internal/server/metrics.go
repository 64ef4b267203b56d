package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kidxcudi/Synq/internal/registry"
)

type serverMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	rejectedTotal     prometheus.Counter
	loginsTotal       prometheus.Counter
	bindsTotal        *prometheus.CounterVec
	bindErrors        *prometheus.CounterVec
	messagesRelayed   prometheus.Counter
	relayErrors       *prometheus.CounterVec
}

func newServerMetrics(reg prometheus.Registerer, state *registry.State) *serverMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &serverMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synq_connections_active",
			Help: "Current number of open client connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synq_connections_total",
			Help: "Total client connections accepted since start.",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synq_connections_rejected_total",
			Help: "Connections refused by the admission gate.",
		}),
		loginsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synq_logins_total",
			Help: "Successful logins since start.",
		}),
		bindsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synq_binds_total",
			Help: "Completed binds grouped by mode.",
		}, []string{"mode"}),
		bindErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synq_bind_errors_total",
			Help: "Rejected bind requests grouped by error code.",
		}, []string{"code"}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synq_messages_relayed_total",
			Help: "Chat messages relayed between bound users.",
		}),
		relayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synq_relay_errors_total",
			Help: "Failed relay attempts grouped by error code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.rejectedTotal,
		m.loginsTotal,
		m.bindsTotal,
		m.bindErrors,
		m.messagesRelayed,
		m.relayErrors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "synq_users_online",
			Help: "Currently logged-in users.",
		}, func() float64 { return float64(state.UserCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "synq_pairs_active",
			Help: "Currently active bound pairs.",
		}, func() float64 { return float64(state.PairCount()) }),
	)
	return m
}

func (m *serverMetrics) connOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *serverMetrics) connClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *serverMetrics) connRejected() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

func (m *serverMetrics) loginCompleted() {
	if m == nil {
		return
	}
	m.loginsTotal.Inc()
}

func (m *serverMetrics) bindCompleted(mode string) {
	if m == nil {
		return
	}
	m.bindsTotal.WithLabelValues(mode).Inc()
}

func (m *serverMetrics) bindRejected(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.bindErrors.WithLabelValues(code).Inc()
}

func (m *serverMetrics) messageRelayed() {
	if m == nil {
		return
	}
	m.messagesRelayed.Inc()
}

func (m *serverMetrics) relayFailed(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.relayErrors.WithLabelValues(code).Inc()
}
