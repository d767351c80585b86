// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.
package client

import (
	"context"
	"io"
	"time"

	"github.com/toeirei/doorkeeper/internal/core"
	"github.com/toeirei/doorkeeper/internal/model"
)

type Client interface {
	// --- Lifecycle ---

	// Close stops background work and releases the store and the
	// transport when the client opened them.
	Close(ctx context.Context) error

	// --- Device-synchronized operations ---

	Enroll(ctx context.Context, d Descriptor) (Credential, error)

	Revoke(ctx context.Context, id int) error

	// --- Local operations ---

	Register(ctx context.Context, d Descriptor) (Credential, error)

	Enable(ctx context.Context, id int, validUntil time.Time) (Credential, error)

	Disable(ctx context.Context, id int) (Credential, error)

	Get(ctx context.Context, id int) (Credential, error)

	ListByOwner(ctx context.Context, ownerID string) ([]Credential, error)

	ListAll(ctx context.Context) ([]Credential, error)

	Counts(ctx context.Context) (map[Status]int, error)

	// --- Fire-and-forget device commands ---

	RequestScan(ctx context.Context, payload []byte) error

	CancelScan(ctx context.Context, payload []byte) error

	Unlock(ctx context.Context, payload []byte) error

	// --- Maintenance ---

	Sweep(ctx context.Context) (ExpiryDelta, error)

	Reconcile(ctx context.Context) (int, error)

	Divergences(ctx context.Context) ([]Divergence, error)

	Export(ctx context.Context, w io.Writer) (int, error)

	Import(ctx context.Context, r io.Reader) (ImportResult, error)
}

type (
	Credential   = model.Credential
	Descriptor   = model.Descriptor
	Status       = model.Status
	Divergence   = model.Divergence
	ExpiryDelta  = model.ExpiryDelta
	ImportResult = core.ImportResult
)

const (
	StatusPending  = model.StatusPending
	StatusActive   = model.StatusActive
	StatusInactive = model.StatusInactive
)

// Errors returned by Client methods, for use with errors.Is.
var (
	ErrNotFound       = model.ErrNotFound
	ErrValidation     = model.ErrValidation
	ErrDuplicate      = model.ErrDuplicate
	ErrInvalidState   = model.ErrInvalidTransition
	ErrDeviceRejected = model.ErrDeviceRejected
	ErrDeviceTimeout  = model.ErrDeviceTimeout
	ErrInFlight       = model.ErrCommandInFlight
	ErrTransport      = model.ErrTransport
	ErrStore          = model.ErrStore
	ErrDiverged       = model.ErrDiverged
)
