package sqlutil

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect describes the identifier quoting and placeholder style of a SQL backend.
type Dialect struct {
	Name        string
	Driver      string
	quote       string
	Placeholder sq.PlaceholderFormat
}

var (
	// MySQL covers MySQL and TiDB.
	MySQL = Dialect{Name: "mysql", Driver: "mysql", quote: "`", Placeholder: sq.Question}
	// Postgres uses the pgx stdlib driver.
	Postgres = Dialect{Name: "postgres", Driver: "pgx", quote: `"`, Placeholder: sq.Dollar}
	// SQLite uses the cgo sqlite3 driver.
	SQLite = Dialect{Name: "sqlite", Driver: "sqlite3", quote: "`", Placeholder: sq.Question}
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mysql", "tidb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Quote quotes an identifier for this dialect.
func (d Dialect) Quote(name string) string {
	q := d.quote
	if q == "" {
		q = "`"
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// Column returns a qualified, quoted column reference.
func (d Dialect) Column(table, column string) string {
	if table == "" {
		return d.Quote(column)
	}
	return d.Quote(table) + "." + d.Quote(column)
}

// Format rewrites ? placeholders into the dialect's placeholder style.
func (d Dialect) Format(query string) (string, error) {
	if d.Placeholder == nil {
		return query, nil
	}
	return d.Placeholder.ReplacePlaceholders(query)
}
