// Package sqlitedb provides isolated in-memory SQLite databases for tests.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var counter atomic.Int64

// NewTestDB opens a private shared-cache in-memory database, applies the
// statements in order and closes it when the test ends.
func NewTestDB(t testing.TB, statements ...string) *sql.DB {
	t.Helper()

	name := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), counter.Add(1))
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatalf("Failed to open sqlite database: %v", err)
	}
	// Keep one connection open so the in-memory database outlives idle connections.
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close sqlite database: %v", err)
		}
	})

	for _, stmt := range statements {
		for _, part := range SplitStatements(stmt) {
			if _, err := db.Exec(part); err != nil {
				t.Fatalf("Failed to execute %q: %v", part, err)
			}
		}
	}
	return db
}

// SplitStatements splits a script on semicolons that end a line.
func SplitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
