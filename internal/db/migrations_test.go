// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"strings"
	"testing"
)

func TestRunMigrationsIdempotent(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()
	sqlDB.SetMaxOpenConns(1)

	if err := RunMigrations(sqlDB, "sqlite"); err != nil {
		t.Fatalf("first RunMigrations: %v", err)
	}
	if err := RunMigrations(sqlDB, "sqlite"); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}

	var n int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one recorded migration, got %d", n)
	}
	for _, table := range []string{"fingerprints", "access_logs", "divergences"} {
		var name string
		if err := sqlDB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestEmbeddedMigrationsForEveryEngine(t *testing.T) {
	for _, engine := range []string{"sqlite", "mysql", "postgres"} {
		data, err := embeddedMigrations.ReadFile("migrations/" + engine + "/0001_init.up.sql")
		if err != nil {
			t.Fatalf("%s: %v", engine, err)
		}
		stmts := splitStatements(string(data))
		var tables []string
		for _, stmt := range stmts {
			if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS ") {
				tables = append(tables, strings.Fields(stmt)[5])
			}
		}
		if strings.Join(tables, ",") != "fingerprints,access_logs,divergences" {
			t.Fatalf("%s: unexpected tables %v", engine, tables)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a (x);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a (x)" {
		t.Fatalf("unexpected split: %q", got)
	}
}

func TestOpenUnsupportedType(t *testing.T) {
	if _, err := Open("oracle", "whatever", DefaultPoolOptions()); err == nil {
		t.Fatalf("expected error for unsupported database type")
	}
}

func TestNormalizeDSN(t *testing.T) {
	got, err := normalizeDSN("mysql", "door:secret@tcp(localhost:3306)/doorkeeper")
	if err != nil {
		t.Fatalf("normalizeDSN: %v", err)
	}
	if !strings.Contains(got, "parseTime=true") || !strings.Contains(got, "clientFoundRows=true") {
		t.Fatalf("mysql dsn missing required params: %s", got)
	}
	if got, _ := normalizeDSN("sqlite", "file:x.db"); got != "file:x.db" {
		t.Fatalf("sqlite dsn should be untouched, got %s", got)
	}
	if _, err := normalizeDSN("mysql", "::not a dsn"); err == nil {
		t.Fatalf("expected error for malformed mysql dsn")
	}
}
