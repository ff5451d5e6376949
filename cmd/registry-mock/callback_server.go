package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spdci/registry-mock/internal/callbackrx"
	"github.com/spdci/registry-mock/internal/logger"
)

type callbackSettings struct {
	Host     string `mapstructure:"callback_server_host"`
	Port     int    `mapstructure:"callback_server_port"`
	LogLevel string `mapstructure:"log_level"`
	LogEnv   string `mapstructure:"log_env"`
}

func (s callbackSettings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func newCallbackServerCommand(run callbackServerFunc) *cobra.Command {
	v := viper.New()
	v.SetDefault("callback_server_host", "0.0.0.0")
	v.SetDefault("callback_server_port", 3336)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_env", "production")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "callback-server",
		Short: "Receive and record on-* callbacks for async harness runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s callbackSettings
			if err := v.Unmarshal(&s); err != nil {
				return fmt.Errorf("callback server settings: %w", err)
			}
			if s.Port < 0 || s.Port > 65535 {
				return fmt.Errorf("callback server port %d out of range", s.Port)
			}
			return run(cmd.Context(), s)
		},
	}
	cmd.Flags().String("callback-host", "", "listen host (CALLBACK_SERVER_HOST)")
	cmd.Flags().Int("callback-port", 0, "listen port (CALLBACK_SERVER_PORT)")
	_ = v.BindPFlag("callback_server_host", cmd.Flags().Lookup("callback-host"))
	_ = v.BindPFlag("callback_server_port", cmd.Flags().Lookup("callback-port"))
	return cmd
}

func serveCallbacks(ctx context.Context, s callbackSettings) error {
	log, err := logger.New(s.LogEnv, s.LogLevel)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rx := callbackrx.NewReceiver(callbackrx.Options{Logger: log})
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           rx,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", srv.Addr).Msg("callback server listening")
	err = listenAndServe(ctx, srv, 5*time.Second)
	log.Info().Int("callbacks", rx.Count()).Msg("callback server stopped")
	return err
}
