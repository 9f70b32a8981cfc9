package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/fusion"
	"github.com/fusionctl/fusionctl/pkg/policy"
	"github.com/fusionctl/fusionctl/pkg/requester"
	"github.com/fusionctl/fusionctl/pkg/stores"
	"github.com/fusionctl/fusionctl/pkg/telemetry"
)

// app holds everything a command needs once settings are loaded.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	json     bool
	version  string
}

// newApp loads settings and starts telemetry for cmd.
func newApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	settings, err := config.LoadSettings(opts.envFile, opts.overrides(cmd))
	if err != nil {
		return nil, err
	}

	cfg := telemetry.DefaultConfig()
	if v := cmd.Root().Version; v != "" {
		cfg.ServiceVersion = v
	}
	cfg.Logging.Level = settings.Log.Level
	cfg.Logging.Format = settings.Log.Format
	cfg.Tracing.Exporter = settings.Tracing.Exporter
	cfg.Tracing.Endpoint = settings.Tracing.Endpoint
	cfg.Tracing.Enabled = settings.Tracing.Exporter != "" && settings.Tracing.Exporter != "none"
	cfg.Metrics.Enabled = settings.Metrics.Addr != ""
	cfg.Metrics.ListenAddress = settings.Metrics.Addr

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid telemetry settings", err).WithCode(engine.ErrCodeInvalidConfig)
	}
	tel.StartMetricsServer()

	logger := tel.Logger.Zerolog()
	log.Logger = logger

	return &app{
		settings: settings,
		tel:      tel,
		logger:   logger,
		json:     opts.jsonOutput,
		version:  cfg.ServiceVersion,
	}, nil
}

// close flushes telemetry.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// requester builds the HTTP requester from the connection settings.
func (a *app) requester() (*requester.HTTPRequester, error) {
	return requester.New(requester.Config{
		URL:                 a.settings.APICollectionURL,
		Timeout:             a.settings.HTTP.Timeout,
		MaxIdleConnsPerHost: a.settings.HTTP.MaxIdleConns,
		Retries:             a.settings.HTTP.Retries,
		Logger:              a.logger,
		Metrics:             a.tel.Metrics,
		Tracer:              a.tel.Tracer,
	})
}

// client builds a fusion client. recorder may be nil.
func (a *app) client(recorder fusion.ChangeRecorder) (*fusion.Client, error) {
	req, err := a.requester()
	if err != nil {
		return nil, err
	}
	opts := []fusion.Option{
		fusion.WithLogger(a.logger),
		fusion.WithMetrics(a.tel.Metrics),
		fusion.WithTracer(a.tel.Tracer),
		fusion.WithConcurrency(a.settings.Concurrency),
	}
	if a.settings.AdminPassword != "" {
		opts = append(opts, fusion.WithAdminPassword(a.settings.AdminPassword))
	}
	if recorder != nil {
		opts = append(opts, fusion.WithRecorder(recorder))
	}
	return fusion.New(req, opts...), nil
}

// policies returns the guardrail engine with the configured policy directory
// loaded.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if a.settings.PolicyDir != "" {
		if err := eng.LoadPolicies(ctx, []string{a.settings.PolicyDir}); err != nil {
			return nil, engine.NewConfigurationError("failed to load policies", err).
				WithCode(engine.ErrCodeInvalidConfig).
				WithResource(a.settings.PolicyDir)
		}
	}
	for _, name := range a.settings.DisabledPolicies {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, engine.NewConfigurationError("cannot disable policy", err).
				WithCode(engine.ErrCodeInvalidConfig).
				WithResource(name)
		}
	}
	return eng, nil
}

// loadDeclaration reads, validates and policy-checks the declaration at path.
func (a *app) loadDeclaration(ctx context.Context, eng *policy.Engine, path, operation string, mode engine.Mode) (*config.Declaration, *policy.Result, error) {
	loader, err := config.NewLoader(a.logger)
	if err != nil {
		return nil, nil, err
	}
	decl, err := loader.Load(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := eng.Check(ctx, decl, &policy.Context{
		Operation: operation,
		Mode:      mode.String(),
		Source:    path,
	})
	if err != nil {
		return nil, result, err
	}
	return decl, result, nil
}

// history opens the run history store, or returns nil when it is disabled.
func (a *app) history(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.settings.HistoryDB == "" {
		return nil, nil
	}
	store, err := stores.Open(ctx, a.settings.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", a.settings.HistoryDB, err)
	}
	return store, nil
}

// saveRun stores a finished run. Failures are logged, never returned.
func (a *app) saveRun(ctx context.Context, store *stores.SQLiteStore, run *stores.Run) {
	if store == nil {
		return
	}
	if err := store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Warn().Err(err).Str("run", run.ID).Msg("Failed to record run history")
		return
	}
	a.logger.Debug().Str("run", run.ID).Int("changes", len(run.Changes)).Msg("Run recorded")
}
