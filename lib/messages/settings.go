package messages

import (
	"strings"

	"github.com/go-gnutella/go-gnutella/lib/config"
	"github.com/go-gnutella/go-gnutella/lib/metrics"
	"github.com/go-gnutella/go-gnutella/lib/util/time/monotonic"
)

// Settings are the limits and collaborators shared by the codecs.
type Settings struct {
	MaxLength      int
	SoftMax        int
	MaxQueryLength int
	MaxXMLLength   int
	IllegalChars   string
	MaxResponses   int
	PerReply       int
	Locale         string
	PartialResults bool
	DesireNMS1     bool

	// Clock stamps envelope creation times.
	Clock *monotonic.Clock
	// Metrics receives decode events. Never nil after NewSettings.
	Metrics metrics.Recorder
}

// NewSettings copies cfg into a Settings using the default clock and no
// metrics.
func NewSettings(cfg config.CodecConfig) *Settings {
	return &Settings{
		MaxLength:      cfg.Message.MaxLength,
		SoftMax:        cfg.Message.SoftMax,
		MaxQueryLength: cfg.Query.MaxLength,
		MaxXMLLength:   cfg.Query.MaxXMLLength,
		IllegalChars:   cfg.Query.IllegalChars,
		MaxResponses:   cfg.Reply.MaxResponses,
		PerReply:       cfg.Reply.PerReply,
		Locale:         cfg.Locale.Language,
		PartialResults: cfg.Search.PartialResults,
		DesireNMS1:     cfg.Search.DesireNMS1,
		Clock:          monotonic.Default(),
		Metrics:        metrics.Nop{},
	}
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() *Settings {
	return NewSettings(config.Defaults())
}

// WithMetrics returns a copy of s reporting to r.
func (s *Settings) WithMetrics(r metrics.Recorder) *Settings {
	c := *s
	if r == nil {
		r = metrics.Nop{}
	}
	c.Metrics = r
	return &c
}

func (s *Settings) clock() *monotonic.Clock {
	if s == nil || s.Clock == nil {
		return monotonic.Default()
	}
	return s.Clock
}

func (s *Settings) recorder() metrics.Recorder {
	if s == nil || s.Metrics == nil {
		return metrics.Nop{}
	}
	return s.Metrics
}

func (s *Settings) hasIllegalChars(q string) bool {
	return strings.ContainsAny(q, s.IllegalChars)
}
