package config

import (
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
)

// CodecConfig holds every setting the codec and the CLI read.
type CodecConfig struct {
	Message MessageConfig
	Query   QueryConfig
	Reply   ReplyConfig
	Locale  LocaleConfig
	Search  SearchConfig
	Listen  ListenConfig
}

// MessageConfig bounds the envelope.
type MessageConfig struct {
	// MaxLength is the largest payload length accepted off the wire.
	// Default: 65536
	MaxLength int

	// SoftMax is the TTL+hops budget. Messages with more hops are dropped and
	// larger TTLs are lowered.
	// Default: 3
	SoftMax int
}

// QueryConfig bounds incoming and outgoing queries.
type QueryConfig struct {
	// Default: 256
	MaxLength int

	// Default: 500
	MaxXMLLength int

	// IllegalChars may not appear in a query string.
	IllegalChars string
}

type ReplyConfig struct {
	// MaxResponses is the largest result count a reply may claim.
	// Default: 10
	MaxResponses int

	// PerReply is how many results are packed into one outgoing reply before
	// the XML size forces a split.
	// Default: 10
	PerReply int
}

type LocaleConfig struct {
	// Language is the two letter code sent in pings and pongs.
	// Default: "en"
	Language string
}

// SearchConfig sets the flags on queries this client originates.
type SearchConfig struct {
	PartialResults bool
	DesireNMS1     bool
}

type ListenConfig struct {
	// Default: ":6346"
	Address string

	// Default: ":9346"
	MetricsAddress string

	// BadPacketLogRate caps bad packet log lines per second.
	// Default: 1
	BadPacketLogRate float64
}

// DEFAULT_ILLEGAL_CHARS are rejected in query strings.
const DEFAULT_ILLEGAL_CHARS = "_#!|?<>^():;/\\[]{}\t\n\r\f"

// Defaults returns the built-in settings.
func Defaults() CodecConfig {
	return CodecConfig{
		Message: MessageConfig{
			MaxLength: 65536,
			SoftMax:   3,
		},
		Query: QueryConfig{
			MaxLength:    256,
			MaxXMLLength: 500,
			IllegalChars: DEFAULT_ILLEGAL_CHARS,
		},
		Reply: ReplyConfig{
			MaxResponses: 10,
			PerReply:     10,
		},
		Locale: LocaleConfig{
			Language: "en",
		},
		Search: SearchConfig{
			PartialResults: true,
		},
		Listen: ListenConfig{
			Address:          ":6346",
			MetricsAddress:   ":9346",
			BadPacketLogRate: 1,
		},
	}
}

// Validate returns an error describing the first unusable value.
func Validate(cfg CodecConfig) error {
	log.WithFields(logger.Fields{
		"at":     "config.Validate",
		"reason": "verification_requested",
	}).Debug("validating_config")
	validators := []func() error{
		func() error { return validateMessage(cfg.Message) },
		func() error { return validateQuery(cfg.Query) },
		func() error { return validateReply(cfg.Reply) },
		func() error { return validateLocale(cfg.Locale) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("config_validation_failed")
			return err
		}
	}
	return nil
}

func validateMessage(m MessageConfig) error {
	if m.MaxLength < 1 {
		return newValidationError("message.max_length must be at least 1")
	}
	if m.SoftMax < 1 || m.SoftMax > 127 {
		return newValidationError("message.soft_max must be in 1..127")
	}
	return nil
}

func validateQuery(q QueryConfig) error {
	if q.MaxLength < 1 {
		return newValidationError("query.max_length must be at least 1")
	}
	if q.MaxXMLLength < 0 {
		return newValidationError("query.max_xml_length must not be negative")
	}
	return nil
}

func validateReply(r ReplyConfig) error {
	if r.MaxResponses < 1 || r.MaxResponses > 255 {
		return newValidationError("reply.max_responses must be in 1..255")
	}
	if r.PerReply < 1 || r.PerReply > 255 {
		return newValidationError("reply.per_reply must be in 1..255")
	}
	return nil
}

func validateLocale(l LocaleConfig) error {
	if len(l.Language) != 2 {
		return newValidationError("locale.language must be a two letter code")
	}
	return nil
}

type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
