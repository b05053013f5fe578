package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MAESTRO_MAX_CONCURRENCY", "8")
	t.Setenv("MAESTRO_BUS_BUFFER", "512")
	t.Setenv("MAESTRO_HISTORY_DB", "/tmp/history.db")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 512, cfg.BusBuffer)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryPath)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	for _, bad := range []string{"zero", "0", "-3"} {
		t.Run(bad, func(t *testing.T) {
			t.Setenv("MAESTRO_MAX_CONCURRENCY", bad)
			_, err := FromEnv()
			require.Error(t, err)

			var cerr *errors.ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}
