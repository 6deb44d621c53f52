package sterbox

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// Device is the session surface the poller needs.
// *Session implements it.
type Device interface {
	Get(ctx context.Context, path string) (*Response, error)
	WaitForAuthentication(ctx context.Context) error
	CheckConnection(ctx context.Context) bool
}

// Stats is a snapshot of poll and publish counters.
type Stats struct {
	PollsOK            uint64 `json:"polls_ok"`
	PollsDropped       uint64 `json:"polls_dropped"`
	ProtocolMismatches uint64 `json:"protocol_mismatches"`
	Publishes          uint64 `json:"publishes"`
	PublishErrors      uint64 `json:"publish_errors"`
}

// counters are the live, atomically updated statistics.
type counters struct {
	pollsOK            atomic.Uint64
	pollsDropped       atomic.Uint64
	protocolMismatches atomic.Uint64
	publishes          atomic.Uint64
	publishErrors      atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PollsOK:            c.pollsOK.Load(),
		PollsDropped:       c.pollsDropped.Load(),
		ProtocolMismatches: c.protocolMismatches.Load(),
		Publishes:          c.publishes.Load(),
		PublishErrors:      c.publishErrors.Load(),
	}
}

// Poller runs one query and decode cycle per call.
type Poller struct {
	device  Device
	decoder *Decoder
	logger  Logger
	stats   *counters
}

// NewPoller creates a poller that queries device and decodes with decoder.
func NewPoller(device Device, decoder *Decoder, logger Logger) *Poller {
	return &Poller{
		device:  device,
		decoder: decoder,
		logger:  logger,
		stats:   &counters{},
	}
}

// Stats returns a snapshot of the poll counters.
func (p *Poller) Stats() Stats {
	return p.stats.snapshot()
}

// QuerySection fetches and decodes one section.
//
// It returns nil when the cycle produced nothing: on a transport error
// (after connection recovery), on a non-200 answer (after
// re-authentication), on a protocol mismatch, or when every variable
// faulted. A failed section never stops the caller from polling others.
func (p *Poller) QuerySection(ctx context.Context, section Section) Values {
	start := time.Now()
	resp, err := p.device.Get(ctx, section.Query)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.stats.pollsDropped.Add(1)
		p.recoverConnection(ctx, section, err)
		return nil
	}

	p.logger.Debug("device request completed",
		"section", section.Name,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		p.stats.pollsDropped.Add(1)
		p.logger.Warn("unexpected device status, re-authenticating",
			"section", section.Name,
			"status", resp.StatusCode,
		)
		p.waitForAuthentication(ctx)
		return nil
	}

	values, err := p.decoder.ParseResponse(resp.Body, section.Variables)
	if err != nil {
		p.stats.pollsDropped.Add(1)
		if errors.Is(err, ErrProtocolMismatch) {
			p.stats.protocolMismatches.Add(1)
		}
		return nil
	}
	if values == nil {
		p.logger.Debug("no values decoded", "section", section.Name)
		return nil
	}

	p.stats.pollsOK.Add(1)
	return values
}

// recoverConnection runs the bounded connection check and falls back to
// unbounded re-authentication when it fails.
func (p *Poller) recoverConnection(ctx context.Context, section Section, cause error) {
	p.logger.Warn("device request failed",
		"section", section.Name,
		"error", cause,
	)

	if p.device.CheckConnection(ctx) {
		p.logger.Info("device connection restored")
		return
	}
	if ctx.Err() != nil {
		return
	}

	p.logger.Warn("could not restore device connection, waiting for authentication")
	p.waitForAuthentication(ctx)
}

func (p *Poller) waitForAuthentication(ctx context.Context) {
	if err := p.device.WaitForAuthentication(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("waiting for authentication failed", "error", err)
	}
}
