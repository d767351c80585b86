// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/lifecycle"
	"github.com/toeirei/doorkeeper/internal/logging"
	"github.com/toeirei/doorkeeper/internal/model"
)

// Service keeps the sensor and the credential store in agreement. Create
// and delete are applied to the store only after the device acknowledged
// them; enable and disable are local.
type Service struct {
	store   db.CredentialStore
	machine *lifecycle.Machine
	cmd     Commander
	rec     *Reconciler
	timeout time.Duration
	log     *clog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithCommandTimeout bounds each device round-trip. Zero uses the
// commander's default.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithReconciler routes post-acknowledgement store failures to r.
func WithReconciler(r *Reconciler) Option {
	return func(s *Service) { s.rec = r }
}

// NewService wires the facade.
func NewService(store db.CredentialStore, machine *lifecycle.Machine, cmd Commander, opts ...Option) *Service {
	s := &Service{
		store:   store,
		machine: machine,
		cmd:     cmd,
		log:     logging.With("component", "service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enroll asks the sensor to store the template for d and inserts the
// credential once the sensor acknowledged it. The credential starts active
// when d carries a valid_until, pending otherwise.
func (s *Service) Enroll(ctx context.Context, d model.Descriptor) (model.Credential, error) {
	now := s.machine.Now()
	if err := d.ValidateAt(now); err != nil {
		return model.Credential{}, err
	}
	if err := s.ensureAbsent(ctx, d.ID); err != nil {
		return model.Credential{}, err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return model.Credential{}, fmt.Errorf("encode create command: %w", err)
	}
	if _, err := s.cmd.Issue(ctx, d.ID, model.CommandCreate, payload, s.timeout); err != nil {
		return model.Credential{}, fmt.Errorf("enroll %d: %w", d.ID, err)
	}

	c, err := s.machine.Create(ctx, d.Credential(now), "enroll")
	if err != nil {
		s.diverged(ctx, model.Divergence{CredentialID: d.ID, Kind: model.CommandCreate, Payload: payload, Error: err.Error(), CreatedAt: now})
		return model.Credential{}, fmt.Errorf("%w: enroll %d acknowledged by device: %w", model.ErrDiverged, d.ID, err)
	}
	s.log.Info("credential enrolled", "id", c.ID, "status", c.Status)
	return c, nil
}

func (s *Service) ensureAbsent(ctx context.Context, id int) error {
	_, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: id %d", model.ErrDuplicate, id)
	case errors.Is(err, model.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Revoke asks the sensor to delete the template for id and removes the row
// once the sensor acknowledged it. A rejection or timeout leaves the row
// untouched.
func (s *Service) Revoke(ctx context.Context, id int) error {
	if id <= 0 {
		return model.Validationf("credential id must be positive, got %d", id)
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		ID int `json:"id"`
	}{id})
	if err != nil {
		return fmt.Errorf("encode delete command: %w", err)
	}
	if _, err := s.cmd.Issue(ctx, id, model.CommandDelete, payload, s.timeout); err != nil {
		return fmt.Errorf("revoke %d: %w", id, err)
	}
	if _, err := s.machine.ConfirmDeleted(ctx, id); err != nil {
		s.diverged(ctx, model.Divergence{CredentialID: id, Kind: model.CommandDelete, Payload: payload, Error: err.Error(), CreatedAt: s.machine.Now()})
		return fmt.Errorf("%w: revoke %d acknowledged by device: %w", model.ErrDiverged, id, err)
	}
	s.log.Info("credential revoked", "id", id)
	return nil
}

func (s *Service) diverged(ctx context.Context, d model.Divergence) {
	if s.rec != nil {
		s.rec.Record(ctx, d)
		return
	}
	s.log.Error("device and store diverged", "id", d.CredentialID, "kind", d.Kind, "err", d.Error)
}

// Enable authorizes the credential until validUntil.
func (s *Service) Enable(ctx context.Context, id int, validUntil time.Time) (model.Credential, error) {
	return s.machine.Enable(ctx, id, validUntil)
}

// Disable revokes the credential's authorization without touching the sensor.
func (s *Service) Disable(ctx context.Context, id int) (model.Credential, error) {
	return s.machine.Disable(ctx, id)
}

// Register inserts a credential without a device round-trip, for templates
// the sensor already holds.
func (s *Service) Register(ctx context.Context, d model.Descriptor) (model.Credential, error) {
	now := s.machine.Now()
	if err := d.ValidateAt(now); err != nil {
		return model.Credential{}, err
	}
	return s.machine.Create(ctx, d.Credential(now), "register")
}

func (s *Service) Get(ctx context.Context, id int) (model.Credential, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	if ownerID == "" {
		return nil, model.Validationf("owner id is required")
	}
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) ListAll(ctx context.Context) ([]model.Credential, error) {
	return s.store.ListAll(ctx)
}

// RequestScan puts the sensor into enrollment mode. Nothing is awaited.
func (s *Service) RequestScan(ctx context.Context, payload []byte) error {
	return s.send(ctx, model.TopicCreate, payload)
}

// CancelScan aborts an enrollment in progress on the sensor.
func (s *Service) CancelScan(ctx context.Context, payload []byte) error {
	return s.send(ctx, model.TopicCancel, payload)
}

// Unlock releases the door attached to the sensor.
func (s *Service) Unlock(ctx context.Context, payload []byte) error {
	return s.send(ctx, model.TopicUnlock, payload)
}

func (s *Service) send(ctx context.Context, topic string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return model.Validationf("%s payload is not valid JSON", topic)
	}
	if err := s.cmd.Send(ctx, topic, payload); err != nil {
		return fmt.Errorf("send %s: %w", topic, err)
	}
	return nil
}
