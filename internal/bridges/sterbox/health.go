package sterbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	defaultHealthInterval = 30 * time.Second

	// healthQoS is used for the retained health report.
	healthQoS = 1
)

// HealthSource provides the live state a health report is built from.
type HealthSource interface {
	DeviceStatus() DeviceStatus
	Stats() Stats
	SuppressedVariables() []string
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Bridge is the device name reported in every message.
	Bridge string

	Version string

	// Topic is where reports are published (retained).
	Topic string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher Publisher
	Source    HealthSource
	Logger    Logger
}

// HealthReporter publishes the bridge status periodically.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}

	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" report.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" report.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "waiting for device authentication")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.cfg.Logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Source == nil {
		return HealthHealthy, ""
	}
	if !h.cfg.Source.DeviceStatus().Authenticated {
		return HealthDegraded, "device not authenticated"
	}
	if n := len(h.cfg.Source.SuppressedVariables()); n > 0 {
		return HealthDegraded, fmt.Sprintf("%d variable(s) suppressed after repeated faults", n)
	}
	return HealthHealthy, ""
}

// buildMessage assembles a report for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	var (
		device     DeviceStatus
		stats      Stats
		suppressed []string
	)
	if h.cfg.Source != nil {
		device = h.cfg.Source.DeviceStatus()
		stats = h.cfg.Source.Stats()
		suppressed = h.cfg.Source.SuppressedVariables()
	}

	msg := NewHealthMessage(h.cfg.Bridge, h.cfg.Version, status, device, stats, suppressed, h.startTime)
	msg.Reason = reason
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}

	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, healthQoS, true)
}
