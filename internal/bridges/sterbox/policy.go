package sterbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/sterbox-bridge/internal/infrastructure/config"
)

// PublishPolicy decides when polled sections are published and on which topic.
type PublishPolicy interface {
	// Name returns the cadence name as written in the configuration.
	Name() string

	// Cycle polls and publishes once, returning how long to wait before the
	// next cycle. It returns early when ctx is cancelled.
	Cycle(ctx context.Context) time.Duration
}

// sectionQuerier is the poller surface the policies use.
type sectionQuerier interface {
	QuerySection(ctx context.Context, section Section) Values
}

// policyBase holds what every cadence needs.
type policyBase struct {
	poller    sectionQuerier
	sections  []Section
	publish   func(ctx context.Context, topic string, values Values)
	topics    TopicLayout
	interval  time.Duration
	restDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// newPublishPolicy returns the policy for a cadence name.
func newPublishPolicy(cadence string, base policyBase) (PublishPolicy, error) {
	if base.now == nil {
		base.now = time.Now
	}
	if base.sleep == nil {
		base.sleep = sleepContext
	}

	switch cadence {
	case config.CadenceInterleaved, "":
		return &interleavedPolicy{policyBase: base, combined: Values{}, lastPublish: base.now()}, nil
	case config.CadenceBatch:
		return &batchPolicy{policyBase: base}, nil
	case config.CadencePerSection:
		return &perSectionPolicy{policyBase: base}, nil
	default:
		return nil, fmt.Errorf("sterbox: unknown cadence %q", cadence)
	}
}

// pollRound queries every section in order, resting between sections but
// not after the last one. It stops early when ctx is cancelled.
func (b *policyBase) pollRound(ctx context.Context, collect func(Section, Values)) {
	for i, section := range b.sections {
		if ctx.Err() != nil {
			return
		}
		if values := b.poller.QuerySection(ctx, section); values != nil {
			collect(section, values)
		}
		if i < len(b.sections)-1 && b.restDelay > 0 {
			if err := b.sleep(ctx, b.restDelay); err != nil {
				return
			}
		}
	}
}

// remaining returns max(0, target - elapsed).
func remaining(target, elapsed time.Duration) time.Duration {
	if elapsed >= target {
		return 0
	}
	return target - elapsed
}

// interleavedPolicy polls continuously and publishes the combined mapping
// on the data topic once per interval.
type interleavedPolicy struct {
	policyBase
	combined    Values
	lastPublish time.Time
}

func (p *interleavedPolicy) Name() string { return config.CadenceInterleaved }

func (p *interleavedPolicy) Cycle(ctx context.Context) time.Duration {
	p.pollRound(ctx, func(_ Section, values Values) {
		p.combined.Merge(values)
	})
	if ctx.Err() != nil {
		return 0
	}

	now := p.now()
	if now.Sub(p.lastPublish) >= p.interval && len(p.combined) > 0 {
		p.publish(ctx, p.topics.Data(), p.combined)
		p.combined = Values{}
		p.lastPublish = now
	}

	wait := remaining(p.interval, p.now().Sub(p.lastPublish))
	if wait > p.restDelay {
		wait = p.restDelay
	}
	return wait
}

// batchPolicy polls every section back to back and publishes one combined
// mapping per round.
type batchPolicy struct {
	policyBase
}

func (p *batchPolicy) Name() string { return config.CadenceBatch }

func (p *batchPolicy) Cycle(ctx context.Context) time.Duration {
	start := p.now()

	combined := Values{}
	p.pollRound(ctx, func(_ Section, values Values) {
		combined.Merge(values)
	})
	if ctx.Err() != nil {
		return 0
	}

	p.publish(ctx, p.topics.Data(), combined)
	return remaining(p.interval, p.now().Sub(start))
}

// perSectionPolicy publishes each section on its own topic as soon as it is
// decoded, pacing every section to one interval.
type perSectionPolicy struct {
	policyBase
}

func (p *perSectionPolicy) Name() string { return config.CadencePerSection }

func (p *perSectionPolicy) Cycle(ctx context.Context) time.Duration {
	for i, section := range p.sections {
		start := p.now()

		if values := p.poller.QuerySection(ctx, section); values != nil {
			p.publish(ctx, p.topics.Section(section.Name), values)
		}
		if ctx.Err() != nil {
			return 0
		}

		wait := remaining(p.interval, p.now().Sub(start))
		if i == len(p.sections)-1 {
			return wait
		}
		if err := p.sleep(ctx, wait); err != nil {
			return 0
		}
	}
	return 0
}
