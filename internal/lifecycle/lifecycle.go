// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package lifecycle enforces the credential state table and performs the
// persisted transitions. Transitions that need the sensor's agreement
// (create, delete) are applied here only after the device acknowledged them.
package lifecycle // import "github.com/toeirei/doorkeeper/internal/lifecycle"

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/model"
)

// statusNone is the origin of a credential that has no row yet.
const statusNone model.Status = ""

// maxCASAttempts bounds retries when a conditional write loses a race.
const maxCASAttempts = 3

// Transition describes one persisted state change.
type Transition struct {
	ID         int
	From       model.Status
	To         model.Status
	ValidUntil *time.Time
	At         time.Time
	Reason     string
}

// Observer is called after each persisted transition.
type Observer func(ctx context.Context, t Transition)

// Option customizes a Machine.
type Option func(*Machine)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithObserver registers an observer for persisted transitions.
func WithObserver(o Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// Machine applies lifecycle transitions against a CredentialStore.
type Machine struct {
	store       db.CredentialStore
	transitions map[model.Status]map[model.Status]struct{}
	now         func() time.Time
	observers   []Observer
}

// New returns a Machine backed by store.
func New(store db.CredentialStore, opts ...Option) *Machine {
	m := &Machine{
		store: store,
		transitions: map[model.Status]map[model.Status]struct{}{
			statusNone: {
				model.StatusPending: {},
				model.StatusActive:  {},
			},
			model.StatusPending: {
				model.StatusActive:  {},
				model.StatusDeleted: {},
			},
			model.StatusActive: {
				model.StatusActive:   {},
				model.StatusInactive: {},
				model.StatusDeleted:  {},
			},
			model.StatusInactive: {
				model.StatusActive:   {},
				model.StatusInactive: {},
				model.StatusDeleted:  {},
			},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Now returns the machine's clock reading.
func (m *Machine) Now() time.Time { return m.now() }

// Allowed reports whether the state table permits from -> to.
func (m *Machine) Allowed(from, to model.Status) bool {
	_, ok := m.transitions[from][to]
	return ok
}

func (m *Machine) check(id int, from, to model.Status) error {
	if !m.Allowed(from, to) {
		return fmt.Errorf("%w: credential %d %s -> %s", model.ErrInvalidTransition, id, describe(from), to)
	}
	return nil
}

func describe(s model.Status) string {
	if s == statusNone {
		return "(none)"
	}
	return string(s)
}

func (m *Machine) notify(ctx context.Context, t Transition) {
	for _, o := range m.observers {
		o(ctx, t)
	}
}

// Create inserts a credential that was accepted by the device or registered
// administratively.
func (m *Machine) Create(ctx context.Context, c model.Credential, reason string) (model.Credential, error) {
	if err := m.check(c.ID, statusNone, c.Status); err != nil {
		return model.Credential{}, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	if _, err := m.store.Insert(ctx, c); err != nil {
		return model.Credential{}, err
	}
	m.notify(ctx, Transition{ID: c.ID, From: statusNone, To: c.Status, ValidUntil: c.ValidUntil, At: m.now(), Reason: reason})
	return c, nil
}

// Enable activates the credential until validUntil, which must be strictly
// in the future. Enabling an active credential re-sets its valid_until.
func (m *Machine) Enable(ctx context.Context, id int, validUntil time.Time) (model.Credential, error) {
	if id <= 0 {
		return model.Credential{}, model.Validationf("credential id must be positive, got %d", id)
	}
	if err := model.ValidateValidUntil(validUntil, m.now()); err != nil {
		return model.Credential{}, err
	}
	vu := validUntil.UTC()
	return m.apply(ctx, id, model.StatusActive, &vu, "enable")
}

// Disable deactivates the credential and clears its valid_until. Disabling
// an inactive credential is a no-op transition; a pending credential was
// never authorized and cannot be disabled.
func (m *Machine) Disable(ctx context.Context, id int) (model.Credential, error) {
	if id <= 0 {
		return model.Credential{}, model.Validationf("credential id must be positive, got %d", id)
	}
	return m.apply(ctx, id, model.StatusInactive, nil, "disable")
}

// apply reads the current state, checks the edge and writes conditioned on
// the state it read. A lost race re-reads and re-checks.
func (m *Machine) apply(ctx context.Context, id int, to model.Status, validUntil *time.Time, reason string) (model.Credential, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return model.Credential{}, err
		}
		if err := m.check(id, cur.Status, to); err != nil {
			return model.Credential{}, err
		}
		n, err := m.store.UpdateStatus(ctx, id, to, validUntil, db.WhereStatus(cur.Status))
		if err != nil {
			return model.Credential{}, err
		}
		if n == 0 {
			continue
		}
		from := cur.Status
		cur.Status = to
		cur.ValidUntil = validUntil
		m.notify(ctx, Transition{ID: id, From: from, To: to, ValidUntil: validUntil, At: m.now(), Reason: reason})
		return cur, nil
	}
	return model.Credential{}, fmt.Errorf("%w: credential %d kept changing during %s", model.ErrStore, id, reason)
}

// Expire retires a credential whose valid_until has elapsed and reports
// whether it belongs in the expiry delta. An active credential becomes
// inactive only if it is still active at write time. A credential in any
// other state that still carries a valid_until keeps its state and has the
// stale timestamp cleared, so it is reported exactly once.
func (m *Machine) Expire(ctx context.Context, c model.Credential) (bool, error) {
	now := m.now()
	if c.ValidUntil == nil || c.ValidUntil.After(now) {
		return false, nil
	}
	to := c.Status
	if c.Status == model.StatusActive {
		to = model.StatusInactive
	}
	// Guard on valid_until too: an enable after the scan moves it forward.
	n, err := m.store.UpdateStatus(ctx, c.ID, to, nil, db.WhereStatus(c.Status), db.WhereExpiredAt(now))
	if err != nil {
		return false, err
	}
	if n == 0 {
		// A concurrent delete, disable or enable won.
		return false, nil
	}
	m.notify(ctx, Transition{ID: c.ID, From: c.Status, To: to, At: now, Reason: "expired"})
	return true, nil
}

// ConfirmDeleted removes the row after the device acknowledged the delete.
// A row that is already gone is not an error.
func (m *Machine) ConfirmDeleted(ctx context.Context, id int) (bool, error) {
	n, err := m.store.DeleteByID(ctx, id)
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.notify(ctx, Transition{ID: id, To: model.StatusDeleted, At: m.now(), Reason: "device delete"})
	}
	return n > 0, nil
}
