package querysql

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour a statement is rendered for.
//
// Statements are always built with ? placeholders; Rebind converts them to
// the dialect's native form right before execution.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a database/sql driver name or dialect name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", name)
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL. Question
// marks inside single-quoted literals are left alone. SQLite queries are
// returned unchanged.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// collateID is appended to id in ORDER BY and seek comparisons so text ids
// sort bytewise regardless of the database locale.
func (d Dialect) collateID() string {
	if d == Postgres {
		return ` COLLATE "C"`
	}
	return ""
}
