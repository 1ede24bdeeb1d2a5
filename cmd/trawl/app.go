package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/trawl/internal/config"
	"github.com/FranksOps/trawl/internal/fingerprint"
	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/internal/normalize"
	"github.com/FranksOps/trawl/internal/params"
	"github.com/FranksOps/trawl/internal/pipeline"
	"github.com/FranksOps/trawl/internal/runrecord"
	"github.com/FranksOps/trawl/internal/search"
	"github.com/FranksOps/trawl/internal/secrets"
	"github.com/FranksOps/trawl/internal/storage"
	"github.com/FranksOps/trawl/internal/storage/csvbackend"
	"github.com/FranksOps/trawl/internal/storage/jsonbackend"
	"github.com/FranksOps/trawl/internal/storage/postgres"
	"github.com/FranksOps/trawl/internal/storage/sqlite"
	"github.com/FranksOps/trawl/pkg/httpclient"
)

// app holds the resources shared by the subcommands of one process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	secrets secrets.Provider
	backend storage.Backend
	// sink is the backend itself unless records go to a file.
	sink    storage.RecordSink
	metrics *metrics.Server
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	sec, err := secrets.New(cfg.Secrets.Provider, cfg.Secrets.EnvPrefix, cfg.Secrets.File)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, cfg, sec, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, secrets: sec, backend: backend, sink: backend}

	switch cfg.DB.Records {
	case "csv":
		a.sink, err = csvbackend.New(cfg.DB.RecordsPath)
	case "ndjson":
		a.sink, err = jsonbackend.New(cfg.DB.RecordsPath)
	}
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("opening %s record sink: %w", cfg.DB.Records, err)
	}

	if cfg.Metrics.Port > 0 {
		a.metrics = metrics.Start(cfg.Metrics.Port)
		logger.Info("metrics server started", "port", cfg.Metrics.Port)
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.cfg.Metrics.Pushgateway != "" {
		if err := metrics.Push(ctx, a.cfg.Metrics.Pushgateway, a.cfg.Metrics.Job); err != nil {
			a.logger.Warn("metrics push failed", "err", err)
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("metrics server shutdown", "err", err)
		}
	}
	if a.sink != a.backend {
		if err := a.sink.Close(); err != nil {
			a.logger.Error("closing record sink", "err", err)
		}
	}
	if err := a.backend.Close(); err != nil {
		a.logger.Error("closing backend", "err", err)
	}
}

func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	policy, err := normalize.ParsePolicy(a.cfg.Pipeline.ResharePolicy)
	if err != nil {
		return nil, err
	}
	searcher, err := newSearcher(a.cfg.Search, a.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Params:     params.NewClient(a.backend),
		Secrets:    a.secrets,
		Searcher:   searcher,
		Recorder:   runrecord.New(a.backend, runrecord.WithLogger(a.logger)),
		Sink:       a.sink,
		Normalizer: normalize.Normalizer{Policy: policy},
		Logger:     a.logger,
	})
}

func openBackend(ctx context.Context, cfg *config.Config, sec secrets.Provider, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.DB.Driver {
	case "postgres":
		password, err := sec.Get(ctx, cfg.DB.PasswordSecret)
		if err != nil {
			if !errors.Is(err, secrets.ErrNotFound) {
				return nil, err
			}
			logger.Debug("no database password secret, using dsn credentials", "secret", cfg.DB.PasswordSecret)
		}
		return postgres.New(ctx, cfg.DB.DSN, password)
	case "sqlite":
		return sqlite.New(cfg.DB.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DB.Driver)
	}
}

func newSearcher(cfg config.SearchConfig, logger *slog.Logger) (*search.Client, error) {
	profile, err := fingerprint.ParseProfile(cfg.TLSProfile)
	if err != nil {
		return nil, err
	}

	var opts fingerprint.Options
	if cfg.ProxyURL != "" {
		if opts.Proxy, err = url.Parse(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("invalid search.proxy_url: %w", err)
		}
	}
	transport, err := fingerprint.Transport(profile, opts)
	if err != nil {
		return nil, err
	}

	hc, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UserAgent:    cfg.UserAgent,
		Transport:    transport,
	})
	if err != nil {
		return nil, err
	}
	return search.NewClient(cfg.BaseURL, hc, logger)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
