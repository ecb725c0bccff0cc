package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CurrentConfig must read the keys setDefaults writes.
func TestCurrentConfigDefaultsRoundTrip(t *testing.T) {
	viper.Reset()
	setDefaults()

	assert.Equal(t, Defaults(), CurrentConfig())
}

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CodecConfig)
	}{
		{"zero max length", func(c *CodecConfig) { c.Message.MaxLength = 0 }},
		{"soft max too large", func(c *CodecConfig) { c.Message.SoftMax = 200 }},
		{"zero query length", func(c *CodecConfig) { c.Query.MaxLength = 0 }},
		{"too many responses", func(c *CodecConfig) { c.Reply.MaxResponses = 256 }},
		{"bad locale", func(c *CodecConfig) { c.Locale.Language = "eng" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "configuration validation failed")
		})
	}
}

func TestInitConfigReadsFile(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "gnutella.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message:\n  soft_max: 5\nlocale:\n  language: de\n"), 0o644))

	CfgFile = path
	defer func() { CfgFile = "" }()
	InitConfig()

	cfg := CurrentConfig()
	assert.Equal(t, 5, cfg.Message.SoftMax)
	assert.Equal(t, "de", cfg.Locale.Language)
	assert.Equal(t, 65536, cfg.Message.MaxLength)
}
