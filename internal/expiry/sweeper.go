// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package expiry retires credentials whose valid_until has elapsed and
// broadcasts the retired ids to the sensor.
package expiry // import "github.com/toeirei/doorkeeper/internal/expiry"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/lifecycle"
	"github.com/toeirei/doorkeeper/internal/logging"
	"github.com/toeirei/doorkeeper/internal/model"
)

// DefaultInterval is the time between two sweeps.
const DefaultInterval = 120 * time.Second

// Publisher is the part of the transport the sweeper needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// AfterRunFunc is called after every scheduled sweep with its outcome.
type AfterRunFunc func(ctx context.Context, delta model.ExpiryDelta, err error)

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRunOnStart makes Start run a sweep immediately instead of waiting one interval.
func WithRunOnStart(v bool) Option {
	return func(s *Sweeper) { s.runOnStart = v }
}

// WithAfterRun registers a hook called after each scheduled sweep.
func WithAfterRun(fn AfterRunFunc) Option {
	return func(s *Sweeper) { s.afterRun = fn }
}

// Sweeper periodically expires credentials. Runs never overlap.
type Sweeper struct {
	store      db.CredentialStore
	machine    *lifecycle.Machine
	pub        Publisher
	interval   time.Duration
	runOnStart bool
	afterRun   AfterRunFunc
	log        *clog.Logger

	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped Sweeper.
func New(store db.CredentialStore, machine *lifecycle.Machine, pub Publisher, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		machine:  machine,
		pub:      pub,
		interval: DefaultInterval,
		log:      logging.With("component", "sweeper"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the sweep loop. It runs until Stop is called or ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("sweeper already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("sweeper started", "interval", s.interval, "run_on_start", s.runOnStart)
	return nil
}

// Stop cancels the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if s.runOnStart {
		s.scheduled(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduled(ctx)
		}
	}
}

// scheduled runs one sweep; failures are logged and the loop continues.
func (s *Sweeper) scheduled(ctx context.Context) {
	delta, err := s.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", "err", err)
	}
	if s.afterRun != nil && ctx.Err() == nil {
		s.afterRun(ctx, delta, err)
	}
}

// RunOnce performs a single sweep: every credential whose valid_until has
// passed is retired and reported, and the delta is published even when it
// is empty.
func (s *Sweeper) RunOnce(ctx context.Context) (model.ExpiryDelta, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	delta := model.ExpiryDelta{List: []int{}}
	now := s.machine.Now()
	rows, err := s.store.ScanExpired(ctx, now)
	if err != nil {
		return delta, fmt.Errorf("scan expired: %w", err)
	}

	var errs []error
	for _, c := range rows {
		reported, err := s.machine.Expire(ctx, c)
		if err != nil {
			s.log.Warn("expire failed", "id", c.ID, "err", err)
			errs = append(errs, fmt.Errorf("expire %d: %w", c.ID, err))
			continue
		}
		if reported {
			delta.List = append(delta.List, c.ID)
		}
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		return delta, errors.Join(append(errs, err)...)
	}
	if err := s.pub.Publish(ctx, model.TopicExpired, payload); err != nil {
		s.log.Error("expiry broadcast lost", "ids", delta.List, "err", err)
		errs = append(errs, fmt.Errorf("publish expiry delta: %w", err))
	}
	if len(delta.List) > 0 {
		s.log.Info("credentials expired", "count", len(delta.List), "ids", delta.List)
	} else {
		s.log.Debug("sweep found nothing to expire")
	}
	return delta, errors.Join(errs...)
}
