package sqlstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteBusyTimeoutMS bounds how long a writer waits for the database lock
// before the transaction fails with SQLITE_BUSY.
const sqliteBusyTimeoutMS = 5000

// dialect captures the few places where SQLite and Postgres differ.
type dialect struct {
	name       string
	driverName string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// lockSuffix is appended to SELECTs that must lock the rows they read
	lockSuffix string
}

var (
	sqliteDialect = dialect{
		name:       DriverSQLite,
		driverName: "sqlite",
	}
	postgresDialect = dialect{
		name:       DriverPostgres,
		driverName: "pgx",
		numbered:   true,
		lockSuffix: " FOR UPDATE",
	}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3", "":
		return sqliteDialect, nil
	case DriverPostgres, "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// rebind rewrites ? placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteDSN turns a plain path into a modernc DSN with the pragmas the ledger
// relies on: WAL journaling, a busy timeout, and BEGIN IMMEDIATE so that the
// write lock is taken before the first read of a transaction.
func sqliteDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("sqlite dsn is empty")
	}
	path := dsn
	query := url.Values{}
	if strings.HasPrefix(dsn, "file:") {
		rest := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(rest, '?'); i >= 0 {
			q, err := url.ParseQuery(rest[i+1:])
			if err != nil {
				return "", fmt.Errorf("parse sqlite dsn: %w", err)
			}
			query = q
			rest = rest[:i]
		}
		path = rest
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	pragmas := query["_pragma"]
	pragmas = appendPragma(pragmas, "busy_timeout", strconv.Itoa(sqliteBusyTimeoutMS))
	pragmas = appendPragma(pragmas, "journal_mode", "WAL")
	pragmas = appendPragma(pragmas, "foreign_keys", "1")
	query["_pragma"] = pragmas
	if query.Get("_txlock") == "" {
		query.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + query.Encode(), nil
}

func appendPragma(pragmas []string, name, value string) []string {
	for _, p := range pragmas {
		if strings.HasPrefix(p, name+"(") || strings.HasPrefix(p, name+"=") {
			return pragmas
		}
	}
	return append(pragmas, name+"("+value+")")
}
