package store

import (
	"strconv"
	"strings"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS opportunities (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opportunities_updated_at ON opportunities(updated_at);

CREATE TABLE IF NOT EXISTS profiles (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	company       TEXT NOT NULL DEFAULT '',
	job_position  TEXT NOT NULL DEFAULT '',
	created_at    {{ts}} NOT NULL,
	last_login_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	created_at    {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
	jti        TEXT PRIMARY KEY,
	expires_at {{ts}} NOT NULL
);
`

// dialect captures the differences between the SQL drivers.
type dialect struct {
	name       string
	driver     string
	timestamp  string
	lockSuffix string
	numbered   bool
}

var (
	sqliteDialect   = dialect{name: DriverSQLite, driver: "sqlite3", timestamp: "DATETIME"}
	postgresDialect = dialect{name: DriverPostgres, driver: "postgres", timestamp: "TIMESTAMPTZ", lockSuffix: " FOR UPDATE", numbered: true}
)

func (d dialect) schema() string {
	return strings.ReplaceAll(schemaTemplate, "{{ts}}", d.timestamp)
}

// rebind rewrites ? placeholders to $1, $2, ... for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
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
