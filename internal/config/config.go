// Package config resolves engine defaults from the environment. Command
// line flags override these values; the zero value of each field means
// "use the built-in default".
package config

import (
	"os"
	"strconv"

	"github.com/tombee/maestro/pkg/errors"
)

// Config holds engine and telemetry defaults.
type Config struct {
	// MaxConcurrency bounds parallel step invocations (default 4).
	MaxConcurrency int

	// BusBuffer is the per-subscriber telemetry buffer size (default 256).
	BusBuffer int

	// HistoryPath enables run history persistence when non-empty.
	HistoryPath string
}

// FromEnv reads configuration from environment variables:
//   - MAESTRO_MAX_CONCURRENCY: positive integer
//   - MAESTRO_BUS_BUFFER: positive integer
//   - MAESTRO_HISTORY_DB: path to the history database
func FromEnv() (Config, error) {
	var cfg Config

	var err error
	if cfg.MaxConcurrency, err = intFromEnv("MAESTRO_MAX_CONCURRENCY"); err != nil {
		return Config{}, err
	}
	if cfg.BusBuffer, err = intFromEnv("MAESTRO_BUS_BUFFER"); err != nil {
		return Config{}, err
	}
	cfg.HistoryPath = os.Getenv("MAESTRO_HISTORY_DB")
	return cfg, nil
}

func intFromEnv(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &errors.ConfigError{
			Key:    key,
			Reason: "must be a positive integer, got " + strconv.Quote(raw),
			Cause:  err,
		}
	}
	return n, nil
}
