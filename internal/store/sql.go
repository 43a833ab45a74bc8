package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

// SQLBackend stores documents in SQLite or PostgreSQL.
type SQLBackend struct {
	conn *sql.DB
	d    dialect
}

var _ Backend = (*SQLBackend)(nil)

// OpenSQLite opens (or creates) the SQLite database and applies the schema.
func OpenSQLite(path string) (*SQLBackend, error) {
	conn, err := sql.Open(sqliteDialect.driver, path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return initSQL(conn, sqliteDialect)
}

// OpenPostgres connects to PostgreSQL and applies the schema.
func OpenPostgres(dsn string) (*SQLBackend, error) {
	conn, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	return initSQL(conn, postgresDialect)
}

func initSQL(conn *sql.DB, d dialect) (*SQLBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping %s: %w", d.name, err)
	}
	if _, err := conn.ExecContext(ctx, d.schema()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply %s schema: %w", d.name, err)
	}
	return &SQLBackend{conn: conn, d: d}, nil
}

// Driver returns the dialect name.
func (b *SQLBackend) Driver() string { return b.d.name }

// Close closes the connection pool.
func (b *SQLBackend) Close() error { return b.conn.Close() }

func (b *SQLBackend) q(query string) string { return b.d.rebind(query) }

// Insert stores a new document.
func (b *SQLBackend) Insert(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encode doc: %w", err)
	}
	_, err = b.conn.ExecContext(ctx, b.q(`INSERT INTO opportunities (id, doc, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		doc.ID, string(raw), doc.CreatedAt.UTC(), doc.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperr.ErrAlreadyExists
	}
	return err
}

// Merge sets top-level fields of a stored document.
func (b *SQLBackend) Merge(ctx context.Context, id string, fields map[string]any, updatedAt time.Time) error {
	return b.modify(ctx, id, updatedAt, func(doc map[string]any) {
		for k, v := range fields {
			doc[k] = v
		}
	})
}

// AppendMeeting appends entry to the stored meetingHistory.
func (b *SQLBackend) AppendMeeting(ctx context.Context, id string, entry map[string]any, fields map[string]any, updatedAt time.Time) error {
	return b.modify(ctx, id, updatedAt, func(doc map[string]any) {
		history, _ := doc["meetingHistory"].([]any)
		doc["meetingHistory"] = append(history, entry)
		for k, v := range fields {
			doc[k] = v
		}
	})
}

// modify is a read-modify-write of one document inside a transaction.
func (b *SQLBackend) modify(ctx context.Context, id string, updatedAt time.Time, apply func(map[string]any)) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var raw string
	err = tx.QueryRowContext(ctx, b.q(`SELECT doc FROM opportunities WHERE id = ?`+b.d.lockSuffix), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select doc: %w", err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decode doc: %w", err)
	}
	apply(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode doc: %w", err)
	}

	if _, err := tx.ExecContext(ctx, b.q(`UPDATE opportunities SET doc = ?, updated_at = ? WHERE id = ?`),
		string(out), updatedAt.UTC(), id); err != nil {
		return fmt.Errorf("update doc: %w", err)
	}
	return tx.Commit()
}

// Delete removes a document.
func (b *SQLBackend) Delete(ctx context.Context, id string) error {
	res, err := b.conn.ExecContext(ctx, b.q(`DELETE FROM opportunities WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteAll removes every document.
func (b *SQLBackend) DeleteAll(ctx context.Context) error {
	_, err := b.conn.ExecContext(ctx, `DELETE FROM opportunities`)
	return err
}

// List returns every document, newest update first.
func (b *SQLBackend) List(ctx context.Context) ([]Document, error) {
	rows, err := b.conn.QueryContext(ctx, `SELECT id, doc, created_at, updated_at FROM opportunities ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc Document
			raw string
		)
		if err := rows.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		// An undecodable body still yields a document; decodeDocument rejects it.
		if err := json.Unmarshal([]byte(raw), &doc.Fields); err != nil {
			doc.Fields = map[string]any{}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetProfile returns the profile of uid.
func (b *SQLBackend) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	var p models.Profile
	err := b.conn.QueryRowContext(ctx, b.q(`
		SELECT uid, email, display_name, company, job_position, created_at, last_login_at
		FROM profiles WHERE uid = ?`), uid).
		Scan(&p.UID, &p.Email, &p.DisplayName, &p.Company, &p.Position, &p.CreatedAt, &p.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get profile: %w", err)
	}
	return &p, nil
}

// PutProfile inserts or replaces a profile.
func (b *SQLBackend) PutProfile(ctx context.Context, p models.Profile) error {
	_, err := b.conn.ExecContext(ctx, b.q(`
		INSERT INTO profiles (uid, email, display_name, company, job_position, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			email         = excluded.email,
			display_name  = excluded.display_name,
			company       = excluded.company,
			job_position  = excluded.job_position,
			last_login_at = excluded.last_login_at`),
		p.UID, p.Email, p.DisplayName, p.Company, p.Position, p.CreatedAt.UTC(), p.LastLoginAt.UTC())
	if err != nil {
		return fmt.Errorf("store: put profile: %w", err)
	}
	return nil
}

// TouchLastLogin stamps the last login time of a profile.
func (b *SQLBackend) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	res, err := b.conn.ExecContext(ctx, b.q(`UPDATE profiles SET last_login_at = ? WHERE uid = ?`), at.UTC(), uid)
	if err != nil {
		return fmt.Errorf("store: touch last login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// CreateCredential stores a new login. Emails are unique.
func (b *SQLBackend) CreateCredential(ctx context.Context, c models.Credential) error {
	_, err := b.conn.ExecContext(ctx, b.q(`
		INSERT INTO credentials (uid, email, password_hash, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		c.UID, strings.ToLower(c.Email), c.PasswordHash, c.DisplayName, c.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return apperr.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("store: create credential: %w", err)
	}
	return nil
}

// CredentialByEmail looks up a login by email.
func (b *SQLBackend) CredentialByEmail(ctx context.Context, email string) (*models.Credential, error) {
	var c models.Credential
	err := b.conn.QueryRowContext(ctx, b.q(`
		SELECT uid, email, password_hash, display_name, created_at
		FROM credentials WHERE email = ?`), strings.ToLower(email)).
		Scan(&c.UID, &c.Email, &c.PasswordHash, &c.DisplayName, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get credential: %w", err)
	}
	return &c, nil
}

// RevokeToken records a signed-out session id until it expires.
func (b *SQLBackend) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if _, err := b.conn.ExecContext(ctx, b.q(`DELETE FROM revoked_tokens WHERE expires_at < ?`), time.Now().UTC()); err != nil {
		return fmt.Errorf("store: prune revoked tokens: %w", err)
	}
	_, err := b.conn.ExecContext(ctx, b.q(`
		INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT(jti) DO NOTHING`), jti, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("store: revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a session id was revoked.
func (b *SQLBackend) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := b.conn.QueryRowContext(ctx, b.q(`SELECT count(*) FROM revoked_tokens WHERE jti = ?`), jti).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: check revoked token: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
