// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/doorkeeper/internal/core"
	"github.com/toeirei/doorkeeper/internal/correlator"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/expiry"
	"github.com/toeirei/doorkeeper/internal/lifecycle"
	"github.com/toeirei/doorkeeper/internal/logging"
	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/toeirei/doorkeeper/internal/transport"
)

// Gateway wires the store, the transport and the synchronization logic
// into one running instance.
type Gateway struct {
	cfg Config
	log *clog.Logger

	store     db.Store
	tr        transport.Transport
	ownsStore bool
	ownsTr    bool

	corr    *correlator.Correlator
	machine *lifecycle.Machine
	svc     *core.Service
	rec     *core.Reconciler
	access  *core.AccessRecorder
	sweeper *expiry.Sweeper

	mu      sync.Mutex
	running bool
	closed  bool
}

// *Gateway implements Client
var _ Client = (*Gateway)(nil)

// New opens the store and the transport described by cfg (unless supplied
// through options), applies migrations and starts listening for device
// replies. Background tasks only run inside Run.
func New(ctx context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	g := &Gateway{cfg: cfg, log: logging.With("component", "gateway"), store: o.store, tr: o.tr}

	if g.store == nil {
		st, err := db.Open(cfg.Database.Type, cfg.Database.Dsn, poolOptions(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", cfg.Database.Type, err)
		}
		g.store, g.ownsStore = st, true
	}
	if g.tr == nil {
		tr, err := transport.Open(ctx, cfg.Transport)
		if err != nil {
			g.release()
			return nil, err
		}
		g.tr, g.ownsTr = tr, true
	}

	g.corr = correlator.New(g.tr, correlator.WithTimeout(cfg.Device.CommandTimeout))
	if err := g.corr.Start(ctx); err != nil {
		g.release()
		return nil, fmt.Errorf("start correlator: %w", err)
	}

	var lopts []lifecycle.Option
	if o.clock != nil {
		lopts = append(lopts, lifecycle.WithClock(o.clock))
	}
	g.machine = lifecycle.New(g.store, lopts...)
	g.rec = core.NewReconciler(g.store)
	g.svc = core.NewService(g.store, g.machine, g.corr,
		core.WithCommandTimeout(cfg.Device.CommandTimeout),
		core.WithReconciler(g.rec),
	)
	g.access = core.NewAccessRecorder(g.store, g.tr)
	g.sweeper = expiry.New(g.store, g.machine, g.tr,
		expiry.WithInterval(cfg.Sweep.Interval),
		expiry.WithRunOnStart(cfg.Sweep.RunOnStart),
		expiry.WithAfterRun(g.afterSweep),
	)
	return g, nil
}

// afterSweep drains outstanding divergences on the sweep cadence.
func (g *Gateway) afterSweep(ctx context.Context, _ model.ExpiryDelta, _ error) {
	g.retryDivergences(ctx)
}

func (g *Gateway) retryDivergences(ctx context.Context) {
	pending, err := g.rec.Pending(ctx)
	if err != nil || len(pending) == 0 {
		return
	}
	if n, err := g.rec.Retry(ctx); err != nil {
		g.log.Warn("divergences still pending", "resolved", n, "err", err)
	}
}

// Run starts the access recorder and the expiry sweeper, replays known
// divergences and blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return errors.New("gateway closed")
	}
	if g.running {
		g.mu.Unlock()
		return errors.New("gateway already running")
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	if err := g.access.Start(ctx); err != nil {
		return fmt.Errorf("start access recorder: %w", err)
	}
	defer g.access.Stop()

	g.retryDivergences(ctx)

	if err := g.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer g.sweeper.Stop()

	g.log.Info("gateway running", "transport", g.cfg.Transport.Type, "database", g.cfg.Database.Type)
	<-ctx.Done()
	g.log.Info("gateway stopping")
	return nil
}

func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.sweeper.Stop()
	g.access.Stop()
	var errs []error
	if err := g.corr.Close(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, g.release())
	return errors.Join(errs...)
}

func (g *Gateway) release() error {
	var errs []error
	if g.ownsTr && g.tr != nil {
		errs = append(errs, g.tr.Close())
	}
	if g.ownsStore && g.store != nil {
		errs = append(errs, g.store.Close())
	}
	return errors.Join(errs...)
}

func (g *Gateway) Enroll(ctx context.Context, d Descriptor) (Credential, error) {
	return g.svc.Enroll(ctx, d)
}

func (g *Gateway) Revoke(ctx context.Context, id int) error {
	return g.svc.Revoke(ctx, id)
}

func (g *Gateway) Register(ctx context.Context, d Descriptor) (Credential, error) {
	return g.svc.Register(ctx, d)
}

func (g *Gateway) Enable(ctx context.Context, id int, validUntil time.Time) (Credential, error) {
	return g.svc.Enable(ctx, id, validUntil)
}

func (g *Gateway) Disable(ctx context.Context, id int) (Credential, error) {
	return g.svc.Disable(ctx, id)
}

func (g *Gateway) Get(ctx context.Context, id int) (Credential, error) {
	return g.svc.Get(ctx, id)
}

func (g *Gateway) ListByOwner(ctx context.Context, ownerID string) ([]Credential, error) {
	return g.svc.ListByOwner(ctx, ownerID)
}

func (g *Gateway) ListAll(ctx context.Context) ([]Credential, error) {
	return g.svc.ListAll(ctx)
}

func (g *Gateway) Counts(ctx context.Context) (map[Status]int, error) {
	return g.store.CountByStatus(ctx)
}

func (g *Gateway) RequestScan(ctx context.Context, payload []byte) error {
	return g.svc.RequestScan(ctx, payload)
}

func (g *Gateway) CancelScan(ctx context.Context, payload []byte) error {
	return g.svc.CancelScan(ctx, payload)
}

func (g *Gateway) Unlock(ctx context.Context, payload []byte) error {
	return g.svc.Unlock(ctx, payload)
}

// Sweep runs one expiry pass now, independent of the schedule.
func (g *Gateway) Sweep(ctx context.Context) (ExpiryDelta, error) {
	return g.sweeper.RunOnce(ctx)
}

func (g *Gateway) Reconcile(ctx context.Context) (int, error) {
	return g.rec.Retry(ctx)
}

func (g *Gateway) Divergences(ctx context.Context) ([]Divergence, error) {
	return g.rec.Pending(ctx)
}

func (g *Gateway) Export(ctx context.Context, w io.Writer) (int, error) {
	return core.Export(ctx, g.store, w)
}

func (g *Gateway) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	return core.Import(ctx, g.store, r)
}
