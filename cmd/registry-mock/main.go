package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spdci/registry-mock/internal/config"
)

var version = "dev"

type serveFunc func(ctx context.Context, s config.Settings) error

type callbackServerFunc func(ctx context.Context, s callbackSettings) error

func main() {
	cmd := newRootCommand(serve, serveCallbacks)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newRootCommand wires flags, environment and the optional config file
// into one viper instance. Running the root command serves the registry.
func newRootCommand(run serveFunc, runCallbacks callbackServerFunc) *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "registry-mock",
		Short:         "SPDCI mock registry for conformance testing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return readConfigFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), s)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	flags.String("host", "", "listen host (HOST)")
	flags.Int("port", 0, "listen port (PORT)")
	flags.String("domain", "", "registry domain: social, crvs, fr, dr or ibr (DOMAIN)")
	flags.String("spec", "", "OpenAPI contract path (OPENAPI_SPEC_PATH)")
	flags.String("spec-dir", "", "directory holding <domain>_api_v1.0.0.yaml (SPEC_DIR)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
	flags.String("log-env", "", "log environment; development logs to the console (LOG_ENV)")

	setSettingDefaults(v)
	for key, flag := range map[string]string{
		"host":              "host",
		"port":              "port",
		"domain":            "domain",
		"openapi_spec_path": "spec",
		"spec_dir":          "spec-dir",
		"log_level":         "log-level",
		"log_env":           "log-env",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mock registry (default)",
		RunE:  root.RunE,
	}
	root.AddCommand(serveCmd, newCallbackServerCommand(runCallbacks))
	return root
}

func setSettingDefaults(v *viper.Viper) {
	d := config.DefaultSettings()
	defaults := map[string]any{
		"host":                d.Host,
		"port":                d.Port,
		"domain":              d.Domain,
		"openapi_spec_path":   d.SpecPath,
		"spec_dir":            d.SpecDir,
		"default_delay":       d.DefaultDelay,
		"callback_delay":      d.CallbackDelay,
		"callbacks_enabled":   d.CallbacksEnabled,
		"callback_fail_rate":  d.CallbackFailRate,
		"max_recordings":      d.MaxRecordings,
		"callback_workers":    d.CallbackWorkers,
		"callback_queue_size": d.CallbackQueueSize,
		"callback_timeout":    d.CallbackTimeout,
		"max_body_bytes":      d.MaxBodyBytes,
		"log_level":           d.LogLevel,
		"log_env":             d.LogEnv,
		"require_contract":    d.RequireContract,
		"watch_contract":      d.WatchContract,
		"tracing_exporter":    d.TracingExporter,
		"otlp_endpoint":       d.OTLPEndpoint,
		"shutdown_timeout":    d.ShutdownTimeout,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func loadSettings(v *viper.Viper) (config.Settings, error) {
	var s config.Settings
	if err := v.Unmarshal(&s); err != nil {
		return config.Settings{}, fmt.Errorf("%w: %v", config.ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}
