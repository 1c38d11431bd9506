package main

import (
	"math/rand/v2"
	"time"
)

const pollJitter = 250 * time.Millisecond

// pacer decides how long the relay sleeps between batches. Consecutive
// failures double the wait up to ceiling; any success resets it.
type pacer struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
	jitter  func(time.Duration) time.Duration
}

func newPacer(base, ceiling time.Duration) *pacer {
	if ceiling < base {
		ceiling = base
	}
	return &pacer{base: base, ceiling: ceiling, current: base, jitter: randomJitter}
}

func (p *pacer) idle() time.Duration {
	p.current = p.base
	return p.jitter(p.base)
}

func (p *pacer) success() {
	p.current = p.base
}

func (p *pacer) failure() time.Duration {
	p.current = min(p.current*2, p.ceiling)
	return p.jitter(p.current)
}

// randomJitter spreads replicas so they do not poll in lockstep.
func randomJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(pollJitter)
}
