package webchat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	envelopes    *prometheus.CounterVec
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	chunks       prometheus.Counter
	attachments  *prometheus.CounterVec
	titles       *prometheus.CounterVec
	liveSessions prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_envelopes_received_total",
			Help: "Inbound websocket frames by type",
		}, []string{"type"}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_turns_total",
			Help: "Chat turns by result",
		}, []string{"result"}),
		turnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docchat_turn_duration_seconds",
			Help:    "Chat turn duration from dequeue to final frame",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Name: "docchat_stream_chunks_total",
			Help: "Stream chunks forwarded to clients",
		}),
		attachments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_attachment_resolutions_total",
			Help: "Attachment fetches by type and result",
		}, []string{"type", "result"}),
		titles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_title_generations_total",
			Help: "Title generations by result",
		}, []string{"result"}),
		liveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "docchat_live_sessions",
			Help: "Registered websocket sessions",
		}),
	}
}

const (
	envelopeLabelInvalid = "invalid"
	envelopeLabelUnknown = "unknown"
)

// envelopeReceived counts a frame. The type comes from the client, so the
// label is folded onto a fixed set to keep the series count bounded.
func (m *Metrics) envelopeReceived(typ string) {
	if m == nil {
		return
	}
	switch typ {
	case TypeChat, TypePing, envelopeLabelInvalid:
	default:
		typ = envelopeLabelUnknown
	}
	m.envelopes.WithLabelValues(typ).Inc()
}

func (m *Metrics) turnFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(result).Inc()
	m.turnDuration.Observe(d.Seconds())
}

func (m *Metrics) chunkForwarded() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}

func (m *Metrics) attachmentResolved(typ, result string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) titleGenerated(result string) {
	if m == nil {
		return
	}
	m.titles.WithLabelValues(result).Inc()
}

func (m *Metrics) setLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}
