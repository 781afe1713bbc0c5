// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package lookupproxy

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a broker's circuit breaker is open.
var ErrCircuitOpen = errors.New("lookupproxy: broker circuit open")

// BreakerState is the state of a per-broker circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	MaxFailures      int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

// Breaker guards calls to a single broker, tripping open after repeated
// failures so a down broker doesn't absorb every lookup worker.
type Breaker struct {
	mu              sync.Mutex
	config          BreakerConfig
	state           BreakerState
	failures        int
	successes       int
	lastStateChange time.Time
}

// NewBreaker creates a Breaker with the given config, applying defaults
// for zero fields.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	return &Breaker{config: config, lastStateChange: time.Now()}
}

// Call runs fn if the breaker currently allows it.
func (b *Breaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastStateChange) > b.config.ResetTimeout {
			b.setState(BreakerHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == BreakerClosed && b.failures >= b.config.MaxFailures {
			b.setState(BreakerOpen)
		} else if b.state == BreakerHalfOpen {
			b.setState(BreakerOpen)
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.setState(BreakerClosed)
		}
	}
}

func (b *Breaker) setState(next BreakerState) {
	if b.state == next {
		return
	}
	b.state = next
	b.lastStateChange = time.Now()
	if next == BreakerClosed {
		b.failures = 0
		b.successes = 0
	} else if next == BreakerHalfOpen {
		b.successes = 0
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
