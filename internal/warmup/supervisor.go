// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package warmup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"

	"github.com/jeranaias/noteguard/internal/provider"
)

// Defaults for Config fields left at zero.
const (
	DefaultCheckTimeout       = 5 * time.Second
	DefaultWarmTimeout        = 120 * time.Second
	DefaultRecheckMaxAttempts = 3
	DefaultRecheckInitial     = 2 * time.Second
	DefaultRecheckMax         = 30 * time.Second
)

// errStale ends work that belongs to a superseded generation.
var errStale = errors.New("warmup generation superseded")

// Config tunes a Supervisor.
type Config struct {
	CheckTimeout       time.Duration
	WarmTimeout        time.Duration
	RecheckMaxAttempts int
	RecheckInitial     time.Duration
	RecheckMax         time.Duration
	Logger             *log.Logger
}

func (c *Config) applyDefaults() {
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.WarmTimeout <= 0 {
		c.WarmTimeout = DefaultWarmTimeout
	}
	if c.RecheckMaxAttempts <= 0 {
		c.RecheckMaxAttempts = DefaultRecheckMaxAttempts
	}
	if c.RecheckInitial <= 0 {
		c.RecheckInitial = DefaultRecheckInitial
	}
	if c.RecheckMax <= 0 {
		c.RecheckMax = DefaultRecheckMax
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard)
	}
}

// cycle is one Checking -> Warming -> Ready/Error run.
type cycle struct {
	gen    uint64
	target provider.Provider
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid once done is closed
}

type subscriber struct {
	fn     func(Event)
	active atomic.Bool
}

type delivery struct {
	ev    Event
	subs  []*subscriber
	hooks bool
}

// Supervisor keeps one backend warm in the background. Callers never wait
// on it: every method returns immediately, and cycles run on the
// supervisor's own context so caller cancellation cannot stop them.
type Supervisor struct {
	cfg    Config
	logger *log.Logger

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.Mutex
	target        provider.Provider
	gen           uint64
	state         Event
	cycle         *cycle
	recheckCancel context.CancelFunc
	subs          []*subscriber
	onUnreachable []func(Event)
	onReady       []func(Event)
	closed        bool

	qmu        sync.Mutex
	qcond      *sync.Cond
	queue      []delivery
	qclosed    bool
	dispatched chan struct{}
}

// New creates a supervisor for target. Nothing runs until Start or Trigger.
func New(target provider.Provider, cfg Config) *Supervisor {
	cfg.applyDefaults()
	root, cancel := context.WithCancel(context.Background())

	s := &Supervisor{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "warmup"),
		root:       root,
		rootCancel: cancel,
		target:     target,
		state:      Event{State: StateUninitialized, At: time.Now()},
		dispatched: make(chan struct{}),
	}
	s.qcond = sync.NewCond(&s.qmu)
	go s.dispatch()
	return s
}

// =============================================================================
// CYCLES
// =============================================================================

// Start begins a warmup cycle without waiting for it.
func (s *Supervisor) Start() {
	s.Trigger()
}

// Trigger starts a cycle, or joins the one in flight, and returns a channel
// closed when that cycle ends.
func (s *Supervisor) Trigger() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.target == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	if s.cycle != nil {
		return s.cycle.done
	}
	return s.startCycleLocked().done
}

func (s *Supervisor) startCycleLocked() *cycle {
	ctx, cancel := context.WithCancel(s.root)
	c := &cycle{
		gen:    s.gen,
		target: s.target,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.cycle = c
	s.wg.Add(1)
	go s.run(c)
	return c
}

func (s *Supervisor) run(c *cycle) {
	defer s.wg.Done()

	c.err = s.check(c)
	c.cancel()

	s.mu.Lock()
	if s.cycle == c {
		s.cycle = nil
	}
	s.mu.Unlock()
	close(c.done)
}

func (s *Supervisor) check(c *cycle) error {
	d := c.target.Descriptor()
	start := time.Now()

	if !s.publishFor(c.gen, StateChecking, fmt.Sprintf("%s %s at %s", d.Kind, d.Model, d.Endpoint), false) {
		return errStale
	}

	ctx, cancel := context.WithTimeout(c.ctx, s.cfg.CheckTimeout)
	err := c.target.Ping(ctx)
	cancel()
	if err != nil {
		s.fail(c.gen, err)
		return err
	}

	if w, ok := c.target.(provider.Warmer); ok {
		if !s.publishFor(c.gen, StateWarming, "loading "+d.Model, false) {
			return errStale
		}
		ctx, cancel := context.WithTimeout(c.ctx, s.cfg.WarmTimeout)
		err = w.Warm(ctx)
		cancel()
		if err != nil {
			s.fail(c.gen, err)
			return err
		}
	}

	if !s.publishFor(c.gen, StateReady, fmt.Sprintf("%s ready in %s", d.Model, time.Since(start).Round(time.Millisecond)), true) {
		return errStale
	}
	return nil
}

func (s *Supervisor) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.publishLocked(Event{State: StateError, Message: err.Error(), Generation: gen, unreachable: true}, true)
}

// =============================================================================
// FAILURE AND RESET
// =============================================================================

// ReportFailure records a failed live call. While Ready, the state moves
// to Error and bounded re-checks are scheduled with exponential backoff;
// if none succeeds the state becomes Degraded. In any other state the
// report is ignored.
func (s *Supervisor) ReportFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.State != StateReady || s.recheckCancel != nil {
		return
	}
	msg := "live call failed"
	if err != nil {
		msg += ": " + err.Error()
	}
	s.publishLocked(Event{State: StateError, Message: msg, Generation: s.gen}, false)

	ctx, cancel := context.WithCancel(s.root)
	s.recheckCancel = cancel
	s.wg.Add(1)
	go s.recheck(ctx, s.gen)
}

func (s *Supervisor) recheck(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RecheckInitial
	b.MaxInterval = s.cfg.RecheckMax

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		c := s.cycleFor(gen)
		if c == nil {
			return struct{}{}, backoff.Permanent(errStale)
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		s.logger.Debug("recheck", "attempt", attempt, "err", c.err)
		return struct{}{}, c.err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.RecheckMaxAttempts)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.recheckCancel = nil
	if err != nil && !errors.Is(err, errStale) && ctx.Err() == nil {
		s.publishLocked(Event{
			State:      StateDegraded,
			Message:    fmt.Sprintf("gave up after %d re-checks: %v", attempt, err),
			Generation: gen,
		}, false)
	}
}

// cycleFor returns the in-flight cycle of gen, starting one if needed, or
// nil when gen is superseded.
func (s *Supervisor) cycleFor(gen uint64) *cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.target == nil {
		return nil
	}
	if s.cycle != nil {
		return s.cycle
	}
	return s.startCycleLocked()
}

// Reset supervises target from now on. The in-flight cycle and any
// re-checks are cancelled; their late results are discarded and fire no
// hooks. The new generation starts Uninitialized.
func (s *Supervisor) Reset(target provider.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.gen++
	if s.cycle != nil {
		s.cycle.cancel()
		s.cycle = nil
	}
	if s.recheckCancel != nil {
		s.recheckCancel()
		s.recheckCancel = nil
	}
	s.target = target
	s.publishLocked(Event{State: StateUninitialized, Message: "provider switched", Generation: s.gen}, false)
}

// =============================================================================
// OBSERVATION
// =============================================================================

// State returns the last published event.
func (s *Supervisor) State() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the supervised provider.
func (s *Supervisor) Target() provider.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Generation returns the current generation.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Subscribe registers fn for state events. fn first receives the current
// state, then every later transition in order, on the supervisor's single
// dispatcher goroutine. fn must not block. The returned function stops
// delivery immediately.
func (s *Supervisor) Subscribe(fn func(Event)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.enqueue(delivery{ev: s.state, subs: []*subscriber{sub}})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, other := range s.subs {
				if other == sub {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// OnUnreachable registers fn for Error events produced by a failed check
// or warm of the current generation.
func (s *Supervisor) OnUnreachable(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnreachable = append(s.onUnreachable, fn)
}

// OnReady registers fn for Ready events of the current generation.
func (s *Supervisor) OnReady(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = append(s.onReady, fn)
}

// Close cancels all work, delivers queued events and stops the dispatcher.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.mu.Unlock()

	s.rootCancel()
	s.wg.Wait()

	s.qmu.Lock()
	s.qclosed = true
	s.qcond.Broadcast()
	s.qmu.Unlock()
	<-s.dispatched
}

// =============================================================================
// DISPATCH
// =============================================================================

// publishFor publishes a transition if gen is still current.
func (s *Supervisor) publishFor(gen uint64, state State, msg string, hooks bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return false
	}
	s.publishLocked(Event{State: state, Message: msg, Generation: gen}, hooks)
	return true
}

func (s *Supervisor) publishLocked(ev Event, hooks bool) {
	ev.At = time.Now()
	s.state = ev
	s.logger.Debug("state", "state", ev.State, "generation", ev.Generation, "msg", ev.Message)

	subs := make([]*subscriber, len(s.subs))
	copy(subs, s.subs)
	s.enqueue(delivery{ev: ev, subs: subs, hooks: hooks})
}

func (s *Supervisor) enqueue(d delivery) {
	s.qmu.Lock()
	s.queue = append(s.queue, d)
	s.qcond.Signal()
	s.qmu.Unlock()
}

func (s *Supervisor) dispatch() {
	defer close(s.dispatched)
	for {
		s.qmu.Lock()
		for len(s.queue) == 0 && !s.qclosed {
			s.qcond.Wait()
		}
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		for _, sub := range d.subs {
			if sub.active.Load() {
				sub.fn(d.ev)
			}
		}
		if d.hooks {
			s.runHooks(d.ev)
		}
	}
}

// runHooks fires lifecycle hooks unless the event's generation is stale.
func (s *Supervisor) runHooks(ev Event) {
	s.mu.Lock()
	if ev.Generation != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	var hooks []func(Event)
	switch {
	case ev.State == StateReady:
		hooks = append(hooks, s.onReady...)
	case ev.State == StateError && ev.unreachable:
		hooks = append(hooks, s.onUnreachable...)
	}
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ev)
	}
}
