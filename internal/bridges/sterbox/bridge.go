package sterbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/config"
)

// pruneInterval is how often old reading history is deleted.
const pruneInterval = time.Hour

// Logger is the logging surface the bridge needs.
// *logging.Logger implements it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// BridgeOptions holds the dependencies of a Bridge.
type BridgeOptions struct {
	// Config is the loaded and validated configuration. Required.
	Config *config.Config

	// Publisher is the MQTT client. Required.
	Publisher Publisher

	// Topics names the publish topics. Required.
	Topics TopicLayout

	// History records every published payload. Optional.
	History HistoryStore

	// Metrics mirrors published readings. Optional.
	Metrics MetricsWriter

	// Logger defaults to discarding output.
	Logger Logger

	// Version is reported in health messages.
	Version string
}

// Bridge polls the device and publishes its readings.
//
// Start authenticates in the background and then runs the configured
// publish policy until Stop is called or the context is cancelled.
type Bridge struct {
	cfg      *config.Config
	sections []Section
	session  *Session
	decoder  *Decoder
	poller   *Poller
	policy   PublishPolicy
	health   *HealthReporter
	history  HistoryStore
	logger   Logger

	retention     time.Duration
	pruneInterval time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge wires the session, decoder, poller, policy and health reporter.
//
// Parameters:
//   - opts: Dependencies and configuration
//
// Returns:
//   - *Bridge: Ready to start
//   - error: If a required dependency is missing or the configuration is unusable
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Topics == nil {
		return nil, fmt.Errorf("topics are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	cfg := opts.Config
	sections := SectionsFromConfig(cfg.Variables)
	if len(sections) == 0 {
		return nil, fmt.Errorf("at least one section is required")
	}

	session, err := NewSession(SessionConfig{
		URL:                  cfg.Sterbox.URL,
		Password:             cfg.Sterbox.Password,
		MaxConnectionRetries: cfg.Sterbox.MaxConnectionRetries,
		ConnectionRetryDelay: cfg.GetConnectionRetryDelay(),
	}, logger)
	if err != nil {
		return nil, err
	}

	decoder := NewDecoder(NewErrorTracker(MaxRetries, variableNames(sections)...), logger)
	poller := NewPoller(session, decoder, logger)

	out := &sink{
		device:    cfg.Sterbox.Name,
		publisher: opts.Publisher,
		history:   opts.History,
		metrics:   opts.Metrics,
		logger:    logger,
		stats:     poller.stats,
	}

	policy, err := newPublishPolicy(cfg.Sterbox.Cadence, policyBase{
		poller:    poller,
		sections:  sections,
		publish:   out.publish,
		topics:    opts.Topics,
		interval:  cfg.GetInterval(),
		restDelay: cfg.GetRestDelay(),
	})
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:           cfg,
		sections:      sections,
		session:       session,
		decoder:       decoder,
		poller:        poller,
		policy:        policy,
		history:       opts.History,
		logger:        logger,
		retention:     cfg.GetRetention(),
		pruneInterval: pruneInterval,
		sleep:         sleepContext,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Bridge:    cfg.Sterbox.Name,
		Version:   opts.Version,
		Topic:     opts.Topics.Health(),
		Interval:  cfg.GetHealthInterval(),
		Publisher: opts.Publisher,
		Source:    b,
		Logger:    logger,
	})

	return b, nil
}

// Start launches authentication and the poll loop in the background.
// It returns immediately; call Stop to shut down.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}
	b.health.Start(ctx)

	b.wg.Add(1)
	go b.run(ctx)

	if b.history != nil && b.retention > 0 {
		b.wg.Add(1)
		go b.pruneLoop(ctx)
	}

	b.logger.Info("bridge started",
		"device", b.session.BaseURL(),
		"sections", len(b.sections),
		"cadence", b.policy.Name(),
	)
	return nil
}

// Stop cancels polling, waits for it to finish and publishes a final
// health report. Any partially combined payload is discarded.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// run authenticates, then repeats policy cycles until ctx is cancelled.
func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()

	if err := b.session.WaitForAuthentication(ctx); err != nil {
		return
	}
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("failed to publish health", "error", err)
	}

	for {
		wait := b.policy.Cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if err := b.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// pruneLoop deletes history older than the retention period.
func (b *Bridge) pruneLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pruneInterval)
	defer ticker.Stop()

	for {
		b.prune(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) prune(ctx context.Context) {
	removed, err := b.history.Prune(ctx, b.retention)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("pruning reading history failed", "error", err)
		}
		return
	}
	if removed > 0 {
		b.logger.Debug("pruned reading history", "removed", removed)
	}
}

// Sections returns the polled sections in declared order.
func (b *Bridge) Sections() []Section {
	return b.sections
}

// DeviceStatus reports the session state.
func (b *Bridge) DeviceStatus() DeviceStatus {
	return DeviceStatus{
		URL:               b.session.BaseURL(),
		Authenticated:     b.session.Authenticated(),
		ConnectionRetries: b.session.ConnectionRetries(),
		SessionResets:     b.session.Resets(),
	}
}

// Stats returns the poll and publish counters.
func (b *Bridge) Stats() Stats {
	return b.poller.Stats()
}

// SuppressedVariables lists variables past their fault retry window.
func (b *Bridge) SuppressedVariables() []string {
	return b.decoder.Tracker().Suppressed()
}
