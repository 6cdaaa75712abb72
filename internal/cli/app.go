// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	pkgerrors "github.com/pkg/errors"

	"github.com/jeranaias/noteguard/internal/audit"
	"github.com/jeranaias/noteguard/internal/cloud"
	"github.com/jeranaias/noteguard/internal/config"
	"github.com/jeranaias/noteguard/internal/gateway"
	"github.com/jeranaias/noteguard/internal/ollama"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/telemetry"
	"github.com/jeranaias/noteguard/internal/util"
	"github.com/jeranaias/noteguard/internal/warmup"
)

// auditCloseTimeout bounds the final audit flush on exit.
const auditCloseTimeout = 5 * time.Second

// app holds the components shared by every command that talks to a model.
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *log.Logger

	metrics *telemetry.Metrics
	audit   *audit.Logger
	store   *audit.SQLiteSink
	gw      *gateway.Gateway

	stopMetrics context.CancelFunc
}

// =============================================================================
// LOGGING
// =============================================================================

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine readable.
func newLogger(level, format string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "noteguard",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

// =============================================================================
// WIRING
// =============================================================================

// loadConfig loads the configuration named by the global flags and applies
// the --log-level override.
func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	path = util.ExpandHome(path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, path, nil
}

// warmMode controls whether openApp starts the warmup supervisor.
type warmMode int

const (
	// warmNever suits one-shot commands: the first call warms lazily.
	warmNever warmMode = iota
	// warmAuto starts warmup when warmup.auto_start is set.
	warmAuto
	warmAlways
)

// openApp wires configuration, providers, audit sinks, metrics and the
// gateway.
func openApp(ctx context.Context, opts *globalOptions, warm warmMode) (*app, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		cfgPath: path,
		logger:  newLogger(cfg.Logging.Level, cfg.Logging.Format),
		metrics: telemetry.NewMetrics(),
	}

	if err := a.openAudit(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "open audit log")
	}

	preferred, err := provider.ParseKind(cfg.Routing.DefaultProvider)
	if err != nil {
		a.closeAudit()
		return nil, err
	}

	local, newLocal := localProviders(cfg)
	cloudProvider, newCloud := cloudProviders(cfg, a.logger)

	a.gw, err = gateway.New(gateway.Options{
		Local:     local,
		Cloud:     cloudProvider,
		Preferred: preferred,
		NewLocal:  newLocal,
		NewCloud:  newCloud,
		Policy:    gateway.PolicyFromConfig(cfg),
		Warmup:    warmupConfig(cfg, a.logger),
		Audit:     a.audit,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		a.closeAudit()
		return nil, pkgerrors.Wrap(err, "create gateway")
	}

	if opts.metricsAddr != "" {
		a.serveMetrics(opts.metricsAddr)
	}
	if warm == warmAlways || (warm == warmAuto && cfg.Warmup.AutoStart) {
		a.gw.Start()
	}
	return a, nil
}

func localProviders(cfg *config.Config) (provider.Provider, func(string) provider.Provider) {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Local.OllamaURL,
		Timeout:      cfg.CallTimeout(),
		DefaultModel: cfg.Local.OllamaModel,
		KeepAlive:    cfg.Local.KeepAlive,
	})
	local := provider.NewLocal(client, cfg.Local.OllamaModel, cfg.CallTimeout())
	return local, func(model string) provider.Provider {
		return local.WithModel(model)
	}
}

func cloudProviders(cfg *config.Config, logger *log.Logger) (provider.Provider, func(string) provider.Provider) {
	client := cloud.NewClient(cloud.Config{
		APIKey:            cfg.CloudAPIKey(),
		BaseURL:           cfg.Cloud.BaseURL,
		Model:             cfg.Cloud.DefaultModel,
		Timeout:           cfg.CallTimeout(),
		MaxRetries:        cfg.Cloud.MaxRetries,
		RequestsPerSecond: cfg.Cloud.RequestsPerSecond,
		SiteURL:           cfg.Cloud.SiteURL,
		SiteName:          cfg.Cloud.SiteName,
	}, logger.With("component", "cloud"))
	c := provider.NewCloud(client, cfg.Cloud.DefaultModel, cfg.CallTimeout())
	return c, func(model string) provider.Provider {
		return c.WithModel(model)
	}
}

func warmupConfig(cfg *config.Config, logger *log.Logger) warmup.Config {
	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return warmup.Config{
		CheckTimeout:       secs(cfg.Warmup.CheckTimeoutSecs),
		WarmTimeout:        secs(cfg.Warmup.WarmTimeoutSecs),
		RecheckMaxAttempts: cfg.Warmup.RecheckMaxAttempts,
		RecheckInitial:     secs(cfg.Warmup.RecheckInitialSecs),
		RecheckMax:         secs(cfg.Warmup.RecheckMaxSecs),
		Logger:             logger,
	}
}

// openAudit opens the configured sinks. A disabled audit log yields a nil
// logger, which drops entries silently.
func (a *app) openAudit(ctx context.Context) error {
	if !a.cfg.Audit.Enabled {
		a.logger.Warn("audit log disabled")
		return nil
	}

	var sinks []audit.Sink
	if p := a.cfg.Audit.JSONLPath; p != "" {
		s, err := audit.OpenJSONL(util.ExpandHome(p), a.cfg.AuditMaxFileSize())
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	if p := a.cfg.Audit.SQLitePath; p != "" {
		s, err := audit.OpenSQLite(ctx, util.ExpandHome(p))
		if err != nil {
			for _, open := range sinks {
				_ = open.Close()
			}
			return err
		}
		a.store = s
		sinks = append(sinks, s)
	}

	a.audit = audit.New(audit.Options{
		QueueSize: a.cfg.Audit.QueueSize,
		OnDrop:    a.metrics.RecordAuditDrop,
		Logger:    a.logger,
	}, sinks...)
	return nil
}

func (a *app) serveMetrics(addr string) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopMetrics = cancel
	go func() {
		if err := a.metrics.Serve(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics endpoint stopped", "addr", addr, "err", err)
		}
	}()
	a.logger.Info("metrics endpoint listening", "addr", addr)
}

// watchConfig applies routing changes from the config file until ctx ends.
func (a *app) watchConfig(ctx context.Context) {
	go func() {
		if err := config.Watch(ctx, a.cfgPath, a.logger, a.gw.ApplyConfig); err != nil {
			a.logger.Warn("config hot reload unavailable", "err", err)
		}
	}()
}

func (a *app) closeAudit() {
	if a.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditCloseTimeout)
	defer cancel()
	if err := a.audit.Close(ctx); err != nil {
		a.logger.Warn("audit log not fully flushed", "err", err)
	}
	if n := a.audit.Dropped(); n > 0 {
		a.logger.Warn("audit entries dropped", "count", n)
	}
}

// Close stops the gateway, then flushes and closes the audit log.
func (a *app) Close() {
	if a.gw != nil {
		a.gw.Close()
	}
	a.closeAudit()
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
}
