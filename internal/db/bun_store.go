// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/doorkeeper/internal/model"
	"github.com/uptrace/bun"
)

// FingerprintModel is the Bun mapping of a fingerprints row.
type FingerprintModel struct {
	bun.BaseModel `bun:"table:fingerprints"`
	ID            int        `bun:"fingerprint_id,pk"`
	Name          string     `bun:"fingerprint_name"`
	UserID        *string    `bun:"user_id"`
	Status        string     `bun:"status"`
	ValidUntil    *time.Time `bun:"valid_until"`
	CreatedAt     time.Time  `bun:"created_at"`
}

// AccessLogModel is the Bun mapping of an access_logs row.
type AccessLogModel struct {
	bun.BaseModel `bun:"table:access_logs"`
	ID            int64     `bun:"log_id,pk,autoincrement"`
	UserID        *string   `bun:"user_id"`
	FingerprintID int       `bun:"fingerprint_id"`
	AccessResult  string    `bun:"access_result"`
	EventType     string    `bun:"event_type"`
	AccessTime    time.Time `bun:"access_time"`
}

// DivergenceModel is the Bun mapping of a divergences row.
type DivergenceModel struct {
	bun.BaseModel `bun:"table:divergences"`
	ID            int64     `bun:"id,pk,autoincrement"`
	FingerprintID int       `bun:"fingerprint_id"`
	Kind          string    `bun:"kind"`
	Payload       []byte    `bun:"payload"`
	Error         string    `bun:"error"`
	Attempts      int       `bun:"attempts"`
	CreatedAt     time.Time `bun:"created_at"`
}

// BunStore implements Store on top of a single *bun.DB pool.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

var _ Store = (*BunStore)(nil)

// NewBunStore wraps an already migrated *bun.DB.
func NewBunStore(bdb *bun.DB, dbType string) *BunStore {
	return &BunStore{bun: bdb, dbType: dbType}
}

// BunDB exposes the underlying Bun DB for tests and maintenance callers.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// Type returns the engine name the store was opened with.
func (s *BunStore) Type() string { return s.dbType }

// Close releases the connection pool.
func (s *BunStore) Close() error { return s.bun.Close() }

// storeTime normalizes timestamps before they reach the database so that
// comparisons behave the same on every engine.
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func storeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := storeTime(*t)
	return &v
}

func fingerprintToModel(m FingerprintModel) model.Credential {
	c := model.Credential{
		ID:        m.ID,
		OwnerID:   m.UserID,
		Name:      m.Name,
		Status:    model.Status(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.ValidUntil != nil {
		vu := m.ValidUntil.UTC()
		c.ValidUntil = &vu
	}
	return c
}

func fingerprintsToModel(rows []FingerprintModel) []model.Credential {
	out := make([]model.Credential, 0, len(rows))
	for _, r := range rows {
		out = append(out, fingerprintToModel(r))
	}
	return out
}

func (s *BunStore) Insert(ctx context.Context, c model.Credential) (int, error) {
	if !c.Status.Valid() {
		return 0, model.Validationf("status %q cannot be stored", c.Status)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	m := FingerprintModel{
		ID:         c.ID,
		Name:       c.Name,
		UserID:     c.OwnerID,
		Status:     string(c.Status),
		ValidUntil: storeTimePtr(c.ValidUntil),
		CreatedAt:  storeTime(created),
	}
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	dbLogf("db: inserted credential %d (%s)", m.ID, m.Status)
	return m.ID, nil
}

func (s *BunStore) Get(ctx context.Context, id int) (model.Credential, error) {
	var m FingerprintModel
	err := s.bun.NewSelect().Model(&m).Where("fingerprint_id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return model.Credential{}, MapDBError(err)
	}
	return fingerprintToModel(m), nil
}

func (s *BunStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	var rows []FingerprintModel
	err := s.bun.NewSelect().Model(&rows).Where("user_id = ?", ownerID).OrderExpr("fingerprint_id ASC").Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return fingerprintsToModel(rows), nil
}

func (s *BunStore) ListAll(ctx context.Context) ([]model.Credential, error) {
	var rows []FingerprintModel
	if err := s.bun.NewSelect().Model(&rows).OrderExpr("fingerprint_id ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return fingerprintsToModel(rows), nil
}

func (s *BunStore) UpdateStatus(ctx context.Context, id int, status model.Status, validUntil *time.Time, opts ...UpdateOption) (int64, error) {
	if !status.Valid() {
		return 0, model.Validationf("status %q cannot be stored", status)
	}
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}
	q := s.bun.NewUpdate().Model((*FingerprintModel)(nil)).
		Set("status = ?", string(status)).
		Set("valid_until = ?", storeTimePtr(validUntil)).
		Where("fingerprint_id = ?", id)
	if len(o.whereStatus) > 0 {
		states := make([]string, 0, len(o.whereStatus))
		for _, st := range o.whereStatus {
			states = append(states, string(st))
		}
		q = q.Where("status IN (?)", bun.In(states))
	}
	if o.expiredAt != nil {
		q = q.Where("valid_until IS NOT NULL").Where("valid_until <= ?", storeTime(*o.expiredAt))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, MapDBError(err)
	}
	dbLogf("db: update credential %d -> %s affected %d", id, status, n)
	return n, nil
}

func (s *BunStore) DeleteByID(ctx context.Context, id int) (int64, error) {
	res, err := s.bun.NewDelete().Model((*FingerprintModel)(nil)).Where("fingerprint_id = ?", id).Exec(ctx)
	if err != nil {
		return 0, MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, MapDBError(err)
	}
	return n, nil
}

func (s *BunStore) ScanExpired(ctx context.Context, now time.Time) ([]model.Credential, error) {
	var rows []FingerprintModel
	err := s.bun.NewSelect().Model(&rows).
		Where("valid_until IS NOT NULL").
		Where("valid_until < ?", storeTime(now)).
		OrderExpr("valid_until ASC, fingerprint_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return fingerprintsToModel(rows), nil
}

// CountByStatus returns the number of credentials per status.
func (s *BunStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	var rows []struct {
		Status string `bun:"status"`
		N      int    `bun:"n"`
	}
	if err := QueryRawInto(ctx, s.bun, &rows, "SELECT status, COUNT(*) AS n FROM fingerprints GROUP BY status"); err != nil {
		return nil, MapDBError(err)
	}
	out := make(map[model.Status]int, len(rows))
	for _, r := range rows {
		out[model.Status(r.Status)] = r.N
	}
	return out, nil
}

func (s *BunStore) RecordAccess(ctx context.Context, e model.AccessLogEntry) (int64, error) {
	at := e.AccessTime
	if at.IsZero() {
		at = time.Now()
	}
	m := AccessLogModel{
		UserID:        e.UserID,
		FingerprintID: e.FingerprintID,
		AccessResult:  e.AccessResult,
		EventType:     e.EventType,
		AccessTime:    storeTime(at),
	}
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return m.ID, nil
}

func (s *BunStore) SaveDivergence(ctx context.Context, d model.Divergence) (int64, error) {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	m := DivergenceModel{
		FingerprintID: d.CredentialID,
		Kind:          string(d.Kind),
		Payload:       d.Payload,
		Error:         d.Error,
		Attempts:      d.Attempts,
		CreatedAt:     storeTime(created),
	}
	if _, err := s.bun.NewInsert().Model(&m).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return m.ID, nil
}

func (s *BunStore) ListDivergences(ctx context.Context) ([]model.Divergence, error) {
	var rows []DivergenceModel
	if err := s.bun.NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.Divergence, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Divergence{
			ID:           r.ID,
			CredentialID: r.FingerprintID,
			Kind:         model.CommandKind(r.Kind),
			Payload:      r.Payload,
			Error:        r.Error,
			Attempts:     r.Attempts,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *BunStore) DeleteDivergence(ctx context.Context, id int64) error {
	_, err := s.bun.NewDelete().Model((*DivergenceModel)(nil)).Where("id = ?", id).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) BumpDivergence(ctx context.Context, id int64, errText string) error {
	res, err := s.bun.NewUpdate().Model((*DivergenceModel)(nil)).
		Set("attempts = attempts + 1").
		Set("error = ?", errText).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("divergence %d: %w", id, model.ErrNotFound)
	}
	return nil
}
