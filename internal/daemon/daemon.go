// Package daemon wires the stores, the session registry, the workflow
// engine, and the gateway into one process.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solace-labs/sessiond/internal/config"
	"github.com/solace-labs/sessiond/internal/logger"
	"github.com/solace-labs/sessiond/internal/observability"
	"github.com/solace-labs/sessiond/internal/tracing"
	"github.com/solace-labs/sessiond/pkg/completion"
	"github.com/solace-labs/sessiond/pkg/gateway"
	"github.com/solace-labs/sessiond/pkg/profile"
	"github.com/solace-labs/sessiond/pkg/session"
	"github.com/solace-labs/sessiond/pkg/storage"
	"github.com/solace-labs/sessiond/pkg/transcript"
	"github.com/solace-labs/sessiond/pkg/workflow"
)

// Daemon is the session manager service.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger

	db          *storage.DB
	transcripts *transcript.Store
	profiles    *profile.Store
	provider    completion.Provider
	engine      *workflow.Engine
	registry    *session.Registry
	gateway     *gateway.Server
	scheduler   *cron.Cron
	watcher     *config.Watcher

	configMu sync.RWMutex

	startTime      time.Time
	running        bool
	mu             sync.RWMutex
	tracingEnabled bool
}

// sessionsProxy breaks the construction cycle between the workflow engine
// and the session registry: the engine is built against the proxy, the
// registry is bound afterwards.
type sessionsProxy struct {
	mu  sync.RWMutex
	reg *session.Registry
}

func (p *sessionsProxy) bind(reg *session.Registry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg = reg
}

func (p *sessionsProxy) registry() (*session.Registry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reg == nil {
		return nil, fmt.Errorf("session registry not ready")
	}
	return p.reg, nil
}

func (p *sessionsProxy) RecentTurns(ctx context.Context, sessionID string, limit int) ([]transcript.Turn, error) {
	reg, err := p.registry()
	if err != nil {
		return nil, err
	}
	return reg.RecentTurns(ctx, sessionID, limit)
}

func (p *sessionsProxy) CommitProfileSummary(ctx context.Context, sessionID string, summary string) error {
	reg, err := p.registry()
	if err != nil {
		return err
	}
	return reg.CommitProfileSummary(ctx, sessionID, summary)
}

// sessionSource adapts the registry to the gateway's session lookup.
type sessionSource struct {
	reg *session.Registry
}

func (s *sessionSource) Get(sessionID string) (gateway.Session, error) {
	return s.reg.Get(sessionID)
}

// New creates a daemon instance from configuration. configPath may be empty;
// hot reload is disabled without it.
func New(cfg *config.Config, configPath string, log *logger.Logger) (*Daemon, error) {
	if err := config.NewValidator().ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()
	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logger:     log,
	}

	if err := tracing.InitOpenTelemetry("sessiond"); err != nil {
		zl := log.GetZerolog()
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initialize(); err != nil {
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, err
	}

	return d, nil
}

// initialize builds the module graph in dependency order.
func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	db, err := storage.Open(storage.Config{
		Path:   d.config.DatabasePath(),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db

	d.transcripts, err = transcript.NewStore(db, zl)
	if err != nil {
		return err
	}
	d.profiles, err = profile.NewStore(db, zl)
	if err != nil {
		return err
	}

	factory := &completion.ProviderFactory{}
	d.provider, err = factory.NewProvider(completion.Options{
		Provider: d.config.AI.Provider,
		APIKey:   d.config.AI.APIKey,
		BaseURL:  d.config.AI.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion provider: %w", err)
	}

	runStore, err := workflow.NewStore(db, zl)
	if err != nil {
		return err
	}

	proxy := &sessionsProxy{}
	summarizer := workflow.NewSummarizer(proxy, d.provider, d.summarizeParams)
	d.engine, err = workflow.NewEngine(runStore, summarizer, d.config.Workflow, zl)
	if err != nil {
		return err
	}

	d.registry = session.NewRegistry(
		d.transcripts,
		d.profiles,
		d.provider,
		d.engine,
		d.config.Session,
		d.config.AI,
		zl,
	)
	proxy.bind(d.registry)

	// Without FTS5 the gateway simply does not expose /search.
	var searcher gateway.Searcher
	if d.transcripts.SearchAvailable() {
		searcher = d.transcripts
	} else {
		zl.Warn().Msg("Transcript search disabled, sqlite built without fts5")
	}

	d.gateway, err = gateway.NewServer(gateway.Config{
		Port:            d.config.Gateway.Port,
		ShutdownTimeout: d.config.Gateway.ShutdownTimeout,
		Sessions:        &sessionSource{reg: d.registry},
		Searcher:        searcher,
		Logger:          zl,
	})
	if err != nil {
		return err
	}

	if err := d.setupScheduler(); err != nil {
		return err
	}

	return nil
}

func (d *Daemon) summarizeParams() workflow.SummarizeParams {
	d.configMu.RLock()
	defer d.configMu.RUnlock()
	return workflow.SummarizeParams{
		Model:     d.config.AI.Model,
		Window:    d.config.Session.SummaryWindow,
		MaxWords:  d.config.Session.SummaryMaxWords,
		MaxTokens: d.config.AI.MaxTokens,
	}
}

// setupScheduler registers the retention sweep and the workflow run reaper.
func (d *Daemon) setupScheduler() error {
	zl := d.logger.GetZerolog()
	d.scheduler = cron.New()

	if d.config.Retention.MaxTurns > 0 {
		_, err := d.scheduler.AddFunc(d.config.Retention.SweepSchedule, d.runRetentionSweep)
		if err != nil {
			return fmt.Errorf("invalid sweep schedule: %w", err)
		}
	} else {
		zl.Info().Msg("Transcript retention sweep disabled")
	}

	if _, err := d.scheduler.AddFunc("@hourly", d.runReaper); err != nil {
		return fmt.Errorf("failed to register workflow reaper: %w", err)
	}

	return nil
}

// runRetentionSweep trims every session's transcript to the retention cap.
func (d *Daemon) runRetentionSweep() {
	zl := d.logger.GetZerolog()
	ctx := context.Background()

	d.configMu.RLock()
	maxTurns := d.config.Retention.MaxTurns
	d.configMu.RUnlock()

	sessionIDs, err := d.transcripts.SessionIDs(ctx)
	if err != nil {
		zl.Error().Err(err).Msg("Retention sweep failed to list sessions")
		return
	}

	total := 0
	for _, id := range sessionIDs {
		n, err := d.transcripts.Trim(ctx, id, maxTurns)
		if err != nil {
			zl.Error().Err(err).Str("session_id", id).Msg("Failed to trim transcript")
			continue
		}
		total += n
	}

	if total > 0 {
		zl.Info().Int("sessions", len(sessionIDs)).Int("trimmed", total).Msg("Retention sweep completed")
	}
}

func (d *Daemon) runReaper() {
	zl := d.logger.GetZerolog()
	ctx := context.Background()
	if _, err := d.engine.Reap(ctx); err != nil {
		zl.Error().Err(err).Msg("Workflow reaper failed")
	}
	// Runs that could not be enqueued when the queue was full stay pending in
	// the store; pick them back up here rather than waiting for a restart.
	if n, err := d.engine.Requeue(ctx); err != nil {
		zl.Error().Err(err).Msg("Workflow requeue failed")
	} else if n > 0 {
		zl.Info().Int("requeued", n).Msg("Re-enqueued stranded workflow runs")
	}
}

// Start brings up the daemon's services.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	zl := d.logger.GetZerolog()

	if err := d.engine.Start(); err != nil {
		return fmt.Errorf("failed to start workflow engine: %w", err)
	}
	if err := d.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	d.scheduler.Start()
	d.startWatcher()

	d.startTime = time.Now()
	d.running = true
	zl.Info().Int("port", d.config.Gateway.Port).Msg("Daemon started")
	return nil
}

// startWatcher reloads tunables when the config file changes on disk.
func (d *Daemon) startWatcher() {
	if d.configPath == "" {
		return
	}
	zl := d.logger.GetZerolog()
	watcher, err := config.NewWatcher(d.configPath, zl, func(updated *config.Config) {
		if err := config.NewValidator().ValidateConfig(updated); err != nil {
			zl.Warn().Err(err).Msg("Ignoring invalid config change")
			return
		}

		d.configMu.Lock()
		d.config.Session = updated.Session
		d.config.AI = updated.AI
		d.config.Retention = updated.Retention
		d.configMu.Unlock()

		d.registry.UpdateConfig(updated.Session, updated.AI)
		zl.Info().Msg("Configuration reloaded")
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		return
	}
	d.watcher = watcher
}

// Stop shuts down in reverse dependency order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Stopping daemon")

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	d.scheduler.Stop()

	if err := d.gateway.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop gateway")
	}
	d.registry.Shutdown()
	d.engine.Stop()

	if err := d.db.Close(); err != nil {
		zl.Error().Err(err).Msg("Failed to close database")
	}

	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
	}

	d.running = false
	zl.Info().Dur("uptime", time.Since(d.startTime)).Msg("Daemon stopped")
	return nil
}

// Run starts the daemon and blocks until a termination signal.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl := d.logger.GetZerolog()
	zl.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	return d.Stop()
}

// IsRunning reports whether the daemon has been started.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}
