// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/toeirei/doorkeeper/internal/model"
)

// CredentialStore is the persistence contract the lifecycle, sweeper and
// synchronization code is written against. Every method acquires and releases
// a pooled connection per call.
type CredentialStore interface {
	// Insert stores a new credential and returns its id. An existing id
	// yields model.ErrDuplicate.
	Insert(ctx context.Context, c model.Credential) (int, error)
	// Get returns the credential with id or model.ErrNotFound.
	Get(ctx context.Context, id int) (model.Credential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error)
	ListAll(ctx context.Context) ([]model.Credential, error)
	// UpdateStatus sets status and valid_until for id and returns the number
	// of rows matched. Options add conditions to the write.
	UpdateStatus(ctx context.Context, id int, status model.Status, validUntil *time.Time, opts ...UpdateOption) (int64, error)
	// DeleteByID removes the row for id and returns the number of rows removed.
	DeleteByID(ctx context.Context, id int) (int64, error)
	// ScanExpired returns every credential whose valid_until is before now,
	// regardless of status, ordered by valid_until then id.
	ScanExpired(ctx context.Context, now time.Time) ([]model.Credential, error)
}

// AccessLogWriter persists device-reported access events.
type AccessLogWriter interface {
	RecordAccess(ctx context.Context, e model.AccessLogEntry) (int64, error)
}

// DivergenceStore keeps device/store divergences until they are replayed.
type DivergenceStore interface {
	SaveDivergence(ctx context.Context, d model.Divergence) (int64, error)
	ListDivergences(ctx context.Context) ([]model.Divergence, error)
	DeleteDivergence(ctx context.Context, id int64) error
	BumpDivergence(ctx context.Context, id int64, errText string) error
}

// Store is the full data access surface backed by a single connection pool.
type Store interface {
	CredentialStore
	AccessLogWriter
	DivergenceStore
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	Close() error
}

type updateOptions struct {
	whereStatus []model.Status
	expiredAt   *time.Time
}

// UpdateOption adds a condition to UpdateStatus.
type UpdateOption func(*updateOptions)

// WhereStatus restricts the update to rows currently in one of the given
// states, turning it into a compare-and-set.
func WhereStatus(s ...model.Status) UpdateOption {
	return func(o *updateOptions) {
		o.whereStatus = append(o.whereStatus, s...)
	}
}

// WhereExpiredAt restricts the update to rows whose valid_until is set and
// not after t. A row re-enabled with a later valid_until since it was read
// is left alone.
func WhereExpiredAt(t time.Time) UpdateOption {
	return func(o *updateOptions) {
		o.expiredAt = &t
	}
}
