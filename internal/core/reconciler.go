// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package core

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
)

// Reconciler tracks commands the device acknowledged but the store failed
// to apply, and replays the store side until it succeeds.
type Reconciler struct {
	store ReconcileStore
	log   *clog.Logger
	now   func() time.Time

	mu sync.Mutex
	// unsaved holds divergences that could not be written to the table.
	unsaved []model.Divergence
}

// NewReconciler returns a reconciler persisting into store.
func NewReconciler(store ReconcileStore) *Reconciler {
	return &Reconciler{store: store, log: logging.With("component", "reconciler"), now: time.Now}
}

// Record keeps d until it is replayed. Persisting is best effort: when the
// table is unavailable too, d is kept in memory.
func (r *Reconciler) Record(ctx context.Context, d model.Divergence) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	r.log.Error("device and store diverged", "id", d.CredentialID, "kind", d.Kind, "err", d.Error)
	id, err := r.store.SaveDivergence(ctx, d)
	if err != nil {
		r.log.Error("divergence kept in memory only", "id", d.CredentialID, "err", err)
		r.mu.Lock()
		r.unsaved = append(r.unsaved, d)
		r.mu.Unlock()
		return
	}
	r.log.Debug("divergence persisted", "divergence", id)
}

// Pending lists every known divergence, persisted ones first.
func (r *Reconciler) Pending(ctx context.Context) ([]model.Divergence, error) {
	persisted, err := r.store.ListDivergences(ctx)
	r.mu.Lock()
	out := append(persisted, r.unsaved...)
	r.mu.Unlock()
	return out, err
}

// Retry replays the store side of every known divergence and returns how
// many were resolved. Entries that still fail stay recorded with their
// attempt counter bumped.
func (r *Reconciler) Retry(ctx context.Context) (int, error) {
	var errs []error
	resolved := 0

	persisted, err := r.store.ListDivergences(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list divergences: %w", err))
	}
	for _, d := range persisted {
		if rerr := r.replay(ctx, d); rerr != nil {
			errs = append(errs, rerr)
			if err := r.store.BumpDivergence(ctx, d.ID, rerr.Error()); err != nil {
				r.log.Warn("could not update divergence", "divergence", d.ID, "err", err)
			}
			continue
		}
		if err := r.store.DeleteDivergence(ctx, d.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete divergence %d: %w", d.ID, err))
			continue
		}
		resolved++
	}

	r.mu.Lock()
	unsaved := r.unsaved
	r.unsaved = nil
	r.mu.Unlock()

	var keep []model.Divergence
	for _, d := range unsaved {
		if rerr := r.replay(ctx, d); rerr != nil {
			errs = append(errs, rerr)
			d.Attempts++
			d.Error = rerr.Error()
			// Move it to the table if the table is back.
			if _, err := r.store.SaveDivergence(ctx, d); err != nil {
				keep = append(keep, d)
			}
			continue
		}
		resolved++
	}
	if len(keep) > 0 {
		r.mu.Lock()
		r.unsaved = append(keep, r.unsaved...)
		r.mu.Unlock()
	}

	if resolved > 0 {
		r.log.Info("divergences resolved", "count", resolved)
	}
	return resolved, errors.Join(errs...)
}

// replay applies the store side of d. Outcomes that already match the
// device state count as resolved.
func (r *Reconciler) replay(ctx context.Context, d model.Divergence) error {
	switch d.Kind {
	case model.CommandDelete:
		if _, err := r.store.DeleteByID(ctx, d.CredentialID); err != nil {
			return fmt.Errorf("replay delete %d: %w", d.CredentialID, err)
		}
		return nil
	case model.CommandCreate:
		var desc model.Descriptor
		if err := json.Unmarshal(d.Payload, &desc); err != nil {
			return fmt.Errorf("replay create %d: decode payload: %w", d.CredentialID, err)
		}
		if desc.ID != d.CredentialID {
			return fmt.Errorf("replay create %d: payload is for credential %d", d.CredentialID, desc.ID)
		}
		_, err := r.store.Insert(ctx, desc.Credential(d.CreatedAt))
		if err != nil && !errors.Is(err, model.ErrDuplicate) {
			return fmt.Errorf("replay create %d: %w", d.CredentialID, err)
		}
		return nil
	default:
		return fmt.Errorf("replay %d: unknown command kind %q", d.CredentialID, d.Kind)
	}
}
