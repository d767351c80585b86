// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toeirei/doorkeeper/internal/model"
)

func TestInsertGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vu := time.Date(2031, 3, 4, 5, 6, 7, 123456789, time.FixedZone("CET", 3600))

	id, err := s.Insert(ctx, model.Credential{ID: 7, Name: "right index", OwnerID: strPtr("u-1"), Status: model.StatusActive, ValidUntil: &vu})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}

	got, err := s.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "right index" || got.Status != model.StatusActive {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if got.OwnerID == nil || *got.OwnerID != "u-1" {
		t.Fatalf("owner not persisted: %+v", got.OwnerID)
	}
	want := vu.UTC().Truncate(time.Microsecond)
	if got.ValidUntil == nil || !got.ValidUntil.Equal(want) {
		t.Fatalf("valid_until mismatch: got %v want %v", got.ValidUntil, want)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at should be set")
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, model.Credential{ID: 1, Name: "a", Status: model.StatusPending}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := s.Insert(ctx, model.Credential{ID: 1, Name: "b", Status: model.StatusPending})
	if !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("duplicate should be a validation error, got %v", err)
	}
}

func TestInsertRejectsDeletedStatus(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Insert(context.Background(), model.Credential{ID: 1, Name: "a", Status: model.StatusDeleted}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByOwnerAndAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []model.Credential{
		{ID: 3, Name: "c", OwnerID: strPtr("alice"), Status: model.StatusPending},
		{ID: 1, Name: "a", OwnerID: strPtr("alice"), Status: model.StatusPending},
		{ID: 2, Name: "b", OwnerID: strPtr("bob"), Status: model.StatusPending},
		{ID: 4, Name: "d", Status: model.StatusPending},
	} {
		if _, err := s.Insert(ctx, c); err != nil {
			t.Fatalf("Insert %d: %v", c.ID, err)
		}
	}

	alice, err := s.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(alice) != 2 || alice[0].ID != 1 || alice[1].ID != 3 {
		t.Fatalf("unexpected alice credentials: %v", alice)
	}

	nobody, err := s.ListByOwner(ctx, "carol")
	if err != nil || len(nobody) != 0 {
		t.Fatalf("expected no credentials for carol, got %v (%v)", nobody, err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 credentials, got %d", len(all))
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusPending] != 4 {
		t.Fatalf("expected 4 pending, got %v", counts)
	}
}

func TestUpdateStatusConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vu := time.Now().Add(time.Hour)
	if _, err := s.Insert(ctx, model.Credential{ID: 5, Name: "x", Status: model.StatusActive, ValidUntil: &vu}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.UpdateStatus(ctx, 5, model.StatusInactive, nil, WhereStatus(model.StatusPending))
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if n != 0 {
		t.Fatalf("condition on pending must not match an active row, affected=%d", n)
	}

	n, err = s.UpdateStatus(ctx, 5, model.StatusInactive, nil, WhereStatus(model.StatusActive))
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 affected row, got %d", n)
	}
	got, err := s.Get(ctx, 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusInactive || got.ValidUntil != nil {
		t.Fatalf("expected inactive with cleared valid_until, got %+v", got)
	}

	// Writing the same values again still reports the matched row.
	n, err = s.UpdateStatus(ctx, 5, model.StatusInactive, nil)
	if err != nil || n != 1 {
		t.Fatalf("idempotent update: n=%d err=%v", n, err)
	}

	n, err = s.UpdateStatus(ctx, 99, model.StatusInactive, nil)
	if err != nil || n != 0 {
		t.Fatalf("update of missing row: n=%d err=%v", n, err)
	}
}

func TestDeleteByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, model.Credential{ID: 8, Name: "x", Status: model.StatusPending}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := s.DeleteByID(ctx, 8)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByID: n=%d err=%v", n, err)
	}
	n, err = s.DeleteByID(ctx, 8)
	if err != nil || n != 0 {
		t.Fatalf("second DeleteByID: n=%d err=%v", n, err)
	}
	if _, err := s.Get(ctx, 8); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestScanExpiredOrderingAndScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Hour)
	old := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	rows := []model.Credential{
		{ID: 10, Name: "future", Status: model.StatusActive, ValidUntil: &future},
		{ID: 11, Name: "old", Status: model.StatusActive, ValidUntil: &old},
		{ID: 12, Name: "older", Status: model.StatusActive, ValidUntil: &older},
		{ID: 13, Name: "pending", Status: model.StatusPending},
		{ID: 9, Name: "same instant", Status: model.StatusInactive, ValidUntil: &old},
		{ID: 14, Name: "exactly now", Status: model.StatusActive, ValidUntil: &now},
	}
	for _, c := range rows {
		if _, err := s.Insert(ctx, c); err != nil {
			t.Fatalf("Insert %d: %v", c.ID, err)
		}
	}

	got, err := s.ScanExpired(ctx, now)
	if err != nil {
		t.Fatalf("ScanExpired: %v", err)
	}
	var ids []int
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	want := []int{12, 9, 11}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestRecordAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id1, err := s.RecordAccess(ctx, model.AccessLogEntry{FingerprintID: 3, UserID: strPtr("u-3"), AccessResult: "granted", EventType: "scan"})
	if err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	id2, err := s.RecordAccess(ctx, model.AccessLogEntry{FingerprintID: 99, AccessResult: "denied", EventType: "scan"})
	if err != nil {
		t.Fatalf("RecordAccess unknown owner: %v", err)
	}
	if id1 <= 0 || id2 <= id1 {
		t.Fatalf("expected increasing log ids, got %d and %d", id1, id2)
	}

	var n int
	if err := QueryRawInto(ctx, s.BunDB(), &n, "SELECT COUNT(*) FROM access_logs WHERE user_id IS NULL"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one anonymous access row, got %d", n)
	}
}

func TestDivergenceCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.SaveDivergence(ctx, model.Divergence{CredentialID: 4, Kind: model.CommandCreate, Payload: []byte(`{"id":4}`), Error: "disk full"})
	if err != nil {
		t.Fatalf("SaveDivergence: %v", err)
	}
	if err := s.BumpDivergence(ctx, id, "still full"); err != nil {
		t.Fatalf("BumpDivergence: %v", err)
	}
	list, err := s.ListDivergences(ctx)
	if err != nil {
		t.Fatalf("ListDivergences: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 divergence, got %d", len(list))
	}
	d := list[0]
	if d.CredentialID != 4 || d.Kind != model.CommandCreate || string(d.Payload) != `{"id":4}` || d.Attempts != 1 || d.Error != "still full" {
		t.Fatalf("unexpected divergence: %+v", d)
	}
	if err := s.DeleteDivergence(ctx, id); err != nil {
		t.Fatalf("DeleteDivergence: %v", err)
	}
	if err := s.BumpDivergence(ctx, id, "gone"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound bumping a removed divergence, got %v", err)
	}
	list, _ = s.ListDivergences(ctx)
	if len(list) != 0 {
		t.Fatalf("expected no divergences, got %v", list)
	}
}

func TestStoreErrorsWrapErrStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := execRaw(ctx, s.BunDB(), "DROP TABLE fingerprints"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := s.ListAll(ctx); !errors.Is(err, model.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if _, err := s.UpdateStatus(ctx, 1, model.StatusInactive, nil); !errors.Is(err, model.ErrStore) {
		t.Fatalf("expected ErrStore from UpdateStatus, got %v", err)
	}
}

func TestUpdateStatusWhereExpiredAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	later := now.Add(time.Hour)

	if _, err := s.Insert(ctx, model.Credential{ID: 1, Name: "a", Status: model.StatusActive, ValidUntil: &past}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(ctx, model.Credential{ID: 2, Name: "b", Status: model.StatusActive, ValidUntil: &later}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(ctx, model.Credential{ID: 3, Name: "c", Status: model.StatusPending}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for id, want := range map[int]int64{1: 1, 2: 0, 3: 0} {
		n, err := s.UpdateStatus(ctx, id, model.StatusInactive, nil, WhereExpiredAt(now))
		if err != nil {
			t.Fatalf("UpdateStatus(%d): %v", id, err)
		}
		if n != want {
			t.Fatalf("UpdateStatus(%d) affected %d rows, want %d", id, n, want)
		}
	}
	got, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusActive || got.ValidUntil == nil {
		t.Fatalf("row with future valid_until must be untouched, got %+v", got)
	}
}
