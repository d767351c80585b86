// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package correlator turns the sensor's uncorrelated request/reply topics
// into blocking calls. The device echoes only the credential id, so every
// credential may have at most one outstanding command; replies are matched
// by id and command kind and the first match wins.
package correlator // import "github.com/toeirei/doorkeeper/internal/correlator"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/doorkeeper/internal/logging"
	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/toeirei/doorkeeper/internal/transport"
)

// DefaultTimeout bounds a command when no timeout is configured.
const DefaultTimeout = 30 * time.Second

const replyBuffer = 64

var errClosed = errors.New("correlator closed")

type result struct {
	reply model.DeviceReply
	err   error
}

// pending is an outstanding command awaiting its reply.
type pending struct {
	id       int
	kind     model.CommandKind
	issuedAt time.Time
	deadline time.Time
	done     chan result
	timer    *time.Timer
}

// Correlator owns the pending-command table and the reply subscriptions.
type Correlator struct {
	tr      transport.Transport
	timeout time.Duration
	log     *clog.Logger

	mu      sync.Mutex
	pending map[int]*pending
	subs    []*transport.Subscription
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTimeout sets the timeout used when Issue is called without one.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *clog.Logger) Option {
	return func(c *Correlator) { c.log = l }
}

// New returns a correlator over tr. Call Start before Issue.
func New(tr transport.Transport, opts ...Option) *Correlator {
	c := &Correlator{
		tr:      tr,
		timeout: DefaultTimeout,
		pending: map[int]*pending{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logging.With("component", "correlator")
	}
	return c
}

// Start creates one long-lived subscription per reply topic and a
// dispatcher goroutine for each. Calling Start again is a no-op.
func (c *Correlator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: %v", model.ErrTransport, errClosed)
	}
	if c.started {
		return nil
	}
	kinds := []model.CommandKind{model.CommandCreate, model.CommandDelete}
	subs := make([]*transport.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		sub, err := c.tr.Subscribe(ctx, model.ReplyTopic(kind), replyBuffer)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return err
		}
		subs = append(subs, sub)
	}
	for i, kind := range kinds {
		c.wg.Add(1)
		go c.dispatch(kind, subs[i])
	}
	c.subs = subs
	c.started = true
	c.log.Debug("listening for device replies", "timeout", c.timeout)
	return nil
}

// Issue publishes payload as a kind command for credential id and blocks
// until the device answers, the timeout elapses or ctx is done. A timeout
// <= 0 uses the configured default.
func (c *Correlator) Issue(ctx context.Context, id int, kind model.CommandKind, payload []byte, timeout time.Duration) (model.DeviceReply, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.DeviceReply{}, fmt.Errorf("%w: %v", model.ErrTransport, errClosed)
	}
	if !c.started {
		c.mu.Unlock()
		return model.DeviceReply{}, fmt.Errorf("%w: correlator not started", model.ErrTransport)
	}
	if cur, busy := c.pending[id]; busy {
		c.mu.Unlock()
		return model.DeviceReply{}, fmt.Errorf("%w: %s for credential %d pending until %s", model.ErrCommandInFlight, cur.kind, id, cur.deadline.Format(time.RFC3339))
	}
	now := time.Now()
	p := &pending{
		id:       id,
		kind:     kind,
		issuedAt: now,
		deadline: now.Add(timeout),
		done:     make(chan result, 1),
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		if c.take(p) {
			c.log.Warn("device did not reply", "kind", kind, "id", id, "timeout", timeout)
			p.done <- result{err: fmt.Errorf("%w: %s for credential %d after %s", model.ErrDeviceTimeout, kind, id, timeout)}
		}
	})
	c.mu.Unlock()

	if err := c.tr.Publish(ctx, model.CommandTopic(kind), payload); err != nil {
		c.take(p)
		return model.DeviceReply{}, err
	}
	c.log.Debug("command issued", "kind", kind, "id", id)

	select {
	case r := <-p.done:
		return r.reply, r.err
	case <-ctx.Done():
		if c.take(p) {
			return model.DeviceReply{}, ctx.Err()
		}
		// Resolved concurrently with cancellation; the result is ready.
		r := <-p.done
		return r.reply, r.err
	}
}

// Send publishes a fire-and-forget command. Nothing is registered.
func (c *Correlator) Send(ctx context.Context, topic string, payload []byte) error {
	return c.tr.Publish(ctx, topic, payload)
}

// take removes p from the table if it is still the entry for its id and
// reports whether the caller now owns its resolution.
func (c *Correlator) take(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[p.id] != p {
		return false
	}
	delete(c.pending, p.id)
	p.timer.Stop()
	return true
}

func (c *Correlator) dispatch(kind model.CommandKind, sub *transport.Subscription) {
	defer c.wg.Done()
	for msg := range sub.C {
		c.handleReply(kind, msg.Payload)
	}
}

func (c *Correlator) handleReply(kind model.CommandKind, payload []byte) {
	var reply model.DeviceReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		c.log.Warn("dropping malformed device reply", "kind", kind, "err", err)
		return
	}

	c.mu.Lock()
	p, ok := c.pending[reply.ID]
	if !ok || p.kind != kind {
		c.mu.Unlock()
		c.log.Debug("discarding unmatched reply", "kind", kind, "id", reply.ID, "status", reply.Status)
		return
	}
	delete(c.pending, reply.ID)
	p.timer.Stop()
	c.mu.Unlock()

	var r result
	switch reply.Status {
	case model.ReplyStatusSuccess:
		r.reply = reply
	case model.ReplyStatusFailure:
		r.err = &model.DeviceRejectedError{ID: reply.ID, Kind: kind, Message: reply.Message}
	default:
		r.err = &model.DeviceRejectedError{ID: reply.ID, Kind: kind, Message: fmt.Sprintf("invalid device reply: status %q", reply.Status)}
	}
	c.log.Debug("command resolved", "kind", kind, "id", reply.ID, "status", reply.Status, "elapsed", time.Since(p.issuedAt))
	// The buffer holds exactly one result and only the owner of the entry
	// sends, so this never blocks.
	p.done <- r
}

// Pending returns the number of outstanding commands.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// InFlight reports whether a command for id is outstanding.
func (c *Correlator) InFlight(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Close stops the dispatchers and fails every outstanding command with
// model.ErrTransport.
func (c *Correlator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	outstanding := make([]*pending, 0, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		outstanding = append(outstanding, p)
		delete(c.pending, id)
	}
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	c.wg.Wait()
	for _, p := range outstanding {
		p.done <- result{err: fmt.Errorf("%w: %v", model.ErrTransport, errClosed)}
	}
	return nil
}
