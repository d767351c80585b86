// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/model"
)

// SnapshotVersion is written into every export.
const SnapshotVersion = 1

// CredentialRecord is the exported form of a credential.
type CredentialRecord struct {
	ID         int          `json:"id"`
	Name       string       `json:"name"`
	OwnerID    *string      `json:"ownerId,omitempty"`
	Status     model.Status `json:"status"`
	ValidUntil *time.Time   `json:"validUntil,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Snapshot is the document written by Export.
type Snapshot struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exportedAt"`
	Credentials []CredentialRecord `json:"credentials"`
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Export writes every credential as zstd-compressed JSON to w.
func Export(ctx context.Context, st db.CredentialStore, w io.Writer) (int, error) {
	rows, err := st.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list credentials: %w", err)
	}
	snap := Snapshot{Version: SnapshotVersion, ExportedAt: time.Now().UTC(), Credentials: make([]CredentialRecord, 0, len(rows))}
	for _, c := range rows {
		snap.Credentials = append(snap.Credentials, CredentialRecord{
			ID:         c.ID,
			Name:       c.Name,
			OwnerID:    c.OwnerID,
			Status:     c.Status,
			ValidUntil: c.ValidUntil,
			CreatedAt:  c.CreatedAt,
		})
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("flush snapshot: %w", err)
	}
	return len(snap.Credentials), nil
}

// Import reads a snapshot written by Export and inserts every credential
// that is not already present. Existing ids are skipped, never overwritten.
func Import(ctx context.Context, st db.CredentialStore, r io.Reader) (ImportResult, error) {
	var res ImportResult
	zr, err := zstd.NewReader(r)
	if err != nil {
		return res, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return res, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return res, model.Validationf("unsupported snapshot version %d", snap.Version)
	}
	for _, rec := range snap.Credentials {
		if rec.ID <= 0 || rec.Name == "" || !rec.Status.Valid() {
			return res, model.Validationf("invalid credential record %d", rec.ID)
		}
		_, err := st.Insert(ctx, model.Credential{
			ID:         rec.ID,
			Name:       rec.Name,
			OwnerID:    rec.OwnerID,
			Status:     rec.Status,
			ValidUntil: rec.ValidUntil,
			CreatedAt:  rec.CreatedAt,
		})
		switch {
		case err == nil:
			res.Imported++
		case errors.Is(err, model.ErrDuplicate):
			res.Skipped++
		default:
			return res, fmt.Errorf("import credential %d: %w", rec.ID, err)
		}
	}
	return res, nil
}
