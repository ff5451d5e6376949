// Package config holds the process settings read once at startup and the
// mutable response configuration adjusted at run time through the admin
// surface.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spdci/registry-mock/internal/envelope"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are bound from flags, environment and an optional config file.
// The mapstructure keys double as environment variable names once upper
// cased.
type Settings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Domain            string        `mapstructure:"domain"`
	SpecPath          string        `mapstructure:"openapi_spec_path"`
	SpecDir           string        `mapstructure:"spec_dir"`
	DefaultDelay      int           `mapstructure:"default_delay"`
	CallbackDelay     int           `mapstructure:"callback_delay"`
	CallbacksEnabled  bool          `mapstructure:"callbacks_enabled"`
	CallbackFailRate  float64       `mapstructure:"callback_fail_rate"`
	MaxRecordings     int           `mapstructure:"max_recordings"`
	CallbackWorkers   int           `mapstructure:"callback_workers"`
	CallbackQueueSize int           `mapstructure:"callback_queue_size"`
	CallbackTimeout   time.Duration `mapstructure:"callback_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	LogLevel          string        `mapstructure:"log_level"`
	LogEnv            string        `mapstructure:"log_env"`
	RequireContract   bool          `mapstructure:"require_contract"`
	WatchContract     bool          `mapstructure:"watch_contract"`
	TracingExporter   string        `mapstructure:"tracing_exporter"`
	OTLPEndpoint      string        `mapstructure:"otlp_endpoint"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		Host:              "0.0.0.0",
		Port:              3335,
		Domain:            envelope.DefaultDomain,
		SpecDir:           "spec",
		DefaultDelay:      0,
		CallbackDelay:     20,
		CallbacksEnabled:  true,
		CallbackFailRate:  0,
		MaxRecordings:     1000,
		CallbackWorkers:   4,
		CallbackQueueSize: 256,
		CallbackTimeout:   10 * time.Second,
		MaxBodyBytes:      1 << 20,
		LogLevel:          "info",
		LogEnv:            "production",
		RequireContract:   true,
		WatchContract:     true,
		TracingExporter:   "none",
		OTLPEndpoint:      "localhost:4317",
		ShutdownTimeout:   5 * time.Second,
	}
}

func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ContractPath is the explicit path when set, else the domain's contract
// file inside SpecDir.
func (s Settings) ContractPath() string {
	if strings.TrimSpace(s.SpecPath) != "" {
		return s.SpecPath
	}
	d, _ := envelope.LookupDomain(s.Domain)
	return filepath.Join(s.SpecDir, d.ContractFile)
}

func (s Settings) ResponseDefaults() ResponseConfig {
	return ResponseConfig{
		DefaultDelay:  s.DefaultDelay,
		CallbackDelay: s.CallbackDelay,
		Endpoints:     map[string]EndpointConfig{},
		Callbacks: CallbackConfig{
			Enabled:  s.CallbacksEnabled,
			FailRate: s.CallbackFailRate,
		},
	}
}

func (s Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}
	if s.MaxRecordings <= 0 {
		return fmt.Errorf("%w: max_recordings must be positive", ErrInvalidSettings)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidSettings)
	}
	switch s.TracingExporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("%w: unsupported tracing exporter %q", ErrInvalidSettings, s.TracingExporter)
	}
	if err := s.ResponseDefaults().validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
