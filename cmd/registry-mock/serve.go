package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/spdci/registry-mock/internal/callback"
	"github.com/spdci/registry-mock/internal/config"
	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
	"github.com/spdci/registry-mock/internal/httpapi"
	"github.com/spdci/registry-mock/internal/logger"
	"github.com/spdci/registry-mock/internal/metrics"
	"github.com/spdci/registry-mock/internal/recorder"
	"github.com/spdci/registry-mock/internal/registry"
	"github.com/spdci/registry-mock/internal/tracing"
)

func serve(ctx context.Context, s config.Settings) error {
	log, err := logger.New(s.LogEnv, s.LogLevel)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:     s.TracingExporter,
		OTLPEndpoint: s.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	domain, known := envelope.LookupDomain(s.Domain)
	if !known {
		log.Warn().Str("domain", s.Domain).Str("using", domain.Name).Msg("unknown domain")
	}

	validator, err := loadContract(ctx, s, log)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	if err := m.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	records := recorder.New(recorder.Options{MaxRecordings: s.MaxRecordings, OnCount: m.Recordings})
	store := config.NewStore(s.ResponseDefaults())
	dispatcher := callback.NewDispatcher(store, records, callback.Options{
		Workers:   s.CallbackWorkers,
		QueueSize: s.CallbackQueueSize,
		Timeout:   s.CallbackTimeout,
		Poster: callback.NewHTTPPoster(callback.HTTPPosterOptions{
			Timeout:    s.CallbackTimeout,
			UserAgent:  "spdci-registry-mock/" + version,
			Propagator: tp.Propagator(),
		}),
		Logger:  log,
		Metrics: m,
		Tracer:  tp.Tracer(),
	})

	regOpts := registry.Options{
		Recorder:  records,
		Scheduler: dispatcher,
		Config:    store,
		Domain:    domain,
		Logger:    log,
		Metrics:   m,
		Tracer:    tp.Tracer(),
	}
	if validator != nil {
		regOpts.Validator = validator
	}
	api := httpapi.NewServer(httpapi.Options{
		Registry:     registry.NewHandler(regOpts),
		Recordings:   records,
		Config:       store,
		Callbacks:    dispatcher,
		Validator:    validator,
		Domain:       domain,
		Gatherer:     prometheus.DefaultGatherer,
		Propagator:   tp.Propagator(),
		MaxBodyBytes: s.MaxBodyBytes,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().
		Str("addr", srv.Addr).
		Str("domain", domain.Name).
		Bool("contract", validator != nil).
		Msg("mock registry listening")

	serveErr := listenAndServe(ctx, srv, s.ShutdownTimeout)

	closeCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		log.Warn().Err(err).Int("pending", dispatcher.Pending()).Msg("callbacks still pending at shutdown")
	}
	return serveErr
}

// loadContract returns a nil Validator when the contract is optional and
// cannot be loaded.
func loadContract(ctx context.Context, s config.Settings, log zerolog.Logger) (*contract.Validator, error) {
	path := s.ContractPath()
	validator, err := contract.Load(path)
	if err != nil {
		if s.RequireContract {
			return nil, fmt.Errorf("load contract: %w", err)
		}
		log.Warn().Err(err).Str("path", path).Msg("contract not loaded; requests will not be validated")
		return nil, nil
	}
	log.Info().
		Str("path", path).
		Str("title", validator.Title()).
		Str("version", validator.Version()).
		Int("paths", len(validator.Paths())).
		Msg("contract loaded")

	if s.WatchContract {
		err := contract.Watch(ctx, path, func(ev fsnotify.Event) {
			log.Warn().Str("path", path).Str("op", ev.Op.String()).Msg("contract changed on disk; restart to apply")
		})
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cannot watch contract")
		}
	}
	return validator, nil
}

// listenAndServe runs srv until ctx ends, then drains it within timeout.
func listenAndServe(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
