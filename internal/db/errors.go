// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/doorkeeper/internal/model"
)

// MapDBError inspects low-level driver errors and maps them onto the model
// error taxonomy: unique violations become model.ErrDuplicate, a missing row
// becomes model.ErrNotFound, and everything else is wrapped in model.ErrStore.
// Context cancellation is passed through untouched so callers can tell it
// apart from a broken database. The mapping is string based so the same code
// serves every driver.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry, Postgres unique violation (23505), SQLite unique constraint
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return fmt.Errorf("%w: %v", model.ErrDuplicate, err)
	}
	return fmt.Errorf("%w: %w", model.ErrStore, err)
}
