package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Store.Driver = "memory"
	cfg.Logging.Level = "loud"

	errs := NewValidator().ValidateConfig(cfg)
	assert.Len(t, errs, 3)
}

func TestValidateConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Channels = map[string]string{"random": "Random", "go-lang_2": "Go"}
	cfg.Stats.Interval = 0

	assert.Empty(t, NewValidator().ValidateConfig(cfg))
}
