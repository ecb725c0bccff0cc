// Package metrics is the observability collaborator injected into the
// message factory. It counts decoded messages, bad packets, TTL clamps and
// fatal reads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "gnutella"

// Recorder receives protocol events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Decoded(function string)
	BadPacket(function, reason string)
	Clamped(function string)
	FatalRead(reason string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Decoded(string)           {}
func (Nop) BadPacket(string, string) {}
func (Nop) Clamped(string)           {}
func (Nop) FatalRead(string)         {}

// Prometheus records events as counters on its own registry.
type Prometheus struct {
	Registry   *prometheus.Registry
	decoded    *prometheus.CounterVec
	badPackets *prometheus.CounterVec
	clamped    *prometheus.CounterVec
	fatalReads *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates the counters and registers them on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		Registry: prometheus.NewRegistry(),
		decoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "messages_decoded_total",
				Help:      "Messages decoded, by function.",
			},
			[]string{"function"},
		),
		badPackets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "bad_packets_total",
				Help:      "Messages dropped as malformed, by function and reason.",
			},
			[]string{"function", "reason"},
		),
		clamped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "ttl_clamped_total",
				Help:      "Messages whose TTL was lowered to fit the hop budget.",
			},
			[]string{"function"},
		),
		fatalReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "fatal_reads_total",
				Help:      "Reads that broke the connection.",
			},
			[]string{"reason"},
		),
	}
	p.Registry.MustRegister(p.decoded, p.badPackets, p.clamped, p.fatalReads)
	return p
}

func (p *Prometheus) Decoded(function string) {
	p.decoded.WithLabelValues(function).Inc()
}

func (p *Prometheus) BadPacket(function, reason string) {
	p.badPackets.WithLabelValues(function, reason).Inc()
}

func (p *Prometheus) Clamped(function string) {
	p.clamped.WithLabelValues(function).Inc()
}

func (p *Prometheus) FatalRead(reason string) {
	p.fatalReads.WithLabelValues(reason).Inc()
}

// Handler exposes the registry. Mount it with mux.Handle("/metrics", p.Handler()).
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}
