// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			expected: &Config{
				Level:  "info",
				Format: FormatJSON,
				Output: os.Stderr,
			},
		},
		{
			name: "LOG_LEVEL=debug",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			expected: &Config{
				Level:  "debug",
				Format: FormatJSON,
				Output: os.Stderr,
			},
		},
		{
			name: "MAESTRO_LOG_LEVEL takes precedence over LOG_LEVEL",
			envVars: map[string]string{
				"MAESTRO_LOG_LEVEL": "warn",
				"LOG_LEVEL":         "debug",
			},
			expected: &Config{
				Level:  "warn",
				Format: FormatJSON,
				Output: os.Stderr,
			},
		},
		{
			name: "MAESTRO_DEBUG enables debug and source",
			envVars: map[string]string{
				"MAESTRO_DEBUG": "1",
				"LOG_LEVEL":     "error",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: true,
			},
		},
		{
			name: "LOG_FORMAT=text",
			envVars: map[string]string{
				"LOG_FORMAT": "text",
			},
			expected: &Config{
				Level:  "info",
				Format: FormatText,
				Output: os.Stderr,
			},
		},
		{
			name: "LOG_SOURCE=1",
			envVars: map[string]string{
				"LOG_SOURCE": "1",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("expected level %q, got %q", tt.expected.Level, cfg.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("expected format %q, got %q", tt.expected.Format, cfg.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("expected AddSource %v, got %v", tt.expected.AddSource, cfg.AddSource)
			}
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("run started", slog.String(RunIDKey, "abc"), slog.String(PipelineKey, "demo"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "run started" {
		t.Errorf("expected msg 'run started', got %v", entry["msg"])
	}
	if entry[RunIDKey] != "abc" {
		t.Errorf("expected %s 'abc', got %v", RunIDKey, entry[RunIDKey])
	}
}

func TestNewTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output to contain msg=hello, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestWithStepContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithStepContext(logger, "run-1", "step-a").Info("invoking")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry[RunIDKey] != "run-1" || entry[StepIDKey] != "step-a" {
		t.Errorf("missing step context fields: %v", entry)
	}
}

func TestTraceRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	Trace(logger, "should not appear")
	if buf.Len() != 0 {
		t.Errorf("trace message logged at info level: %q", buf.String())
	}

	traceLogger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	Trace(traceLogger, "should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("trace message missing at trace level")
	}
}
