package broker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ernstnaezer/ultralight"
)

// Metrics are the Prometheus collectors updated by a Broker.  A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Connections       prometheus.Gauge
	Queues            prometheus.Gauge
	FramesReceived    *prometheus.CounterVec
	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesBuffered  prometheus.Counter
	ErrorsSent        prometheus.Counter
}

// NewMetrics creates the broker collectors and registers them with r.  r may be nil
// in which case the collectors are created but not registered.
func NewMetrics(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ultralight_connections",
			Help: "Open client connections",
		}),
		Queues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ultralight_queues",
			Help: "Registered destination queues",
		}),
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultralight_frames_received_total",
				Help: "Frames received from clients by command",
			},
			[]string{"command"},
		),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ultralight_messages_published_total",
			Help: "Messages published to destinations",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ultralight_messages_delivered_total",
			Help: "MESSAGE frames handed to subscribers",
		}),
		MessagesBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ultralight_messages_buffered_total",
			Help: "Messages stored because the destination had no subscribers",
		}),
		ErrorsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ultralight_errors_sent_total",
			Help: "ERROR frames sent to clients",
		}),
	}
	if r != nil {
		r.MustRegister(m.Connections, m.Queues, m.FramesReceived, m.MessagesPublished,
			m.MessagesDelivered, m.MessagesBuffered, m.ErrorsSent)
	}
	return m
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) queueAdded() {
	if m != nil {
		m.Queues.Inc()
	}
}

func (m *Metrics) queueRemoved() {
	if m != nil {
		m.Queues.Dec()
	}
}

func (m *Metrics) frameReceived(cmd ultralight.Command) {
	if m != nil {
		m.FramesReceived.WithLabelValues(cmd.String()).Inc()
	}
}

func (m *Metrics) published() {
	if m != nil {
		m.MessagesPublished.Inc()
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.MessagesDelivered.Inc()
	}
}

func (m *Metrics) buffered() {
	if m != nil {
		m.MessagesBuffered.Inc()
	}
}

func (m *Metrics) errorSent() {
	if m != nil {
		m.ErrorsSent.Inc()
	}
}
