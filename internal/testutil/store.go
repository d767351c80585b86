// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"strings"
	"testing"

	"github.com/toeirei/doorkeeper/internal/db"
)

// NewStore opens a migrated in-memory sqlite store private to t.
func NewStore(t *testing.T) *db.BunStore {
	t.Helper()
	s, err := db.Open("sqlite", "file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared", db.DefaultPoolOptions())
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
