// Package sqlstore is an identity.Store over database/sql for SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx). Updates are optimistic: every row
// carries a version and writes are conditioned on the version that was read.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/MrEthical07/authcore/identity"
)

//go:embed schema.sql
var schema string

const maxUpdateRetries = 16

// Dialect selects placeholder and error handling for a driver.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Store persists identities in a single "identities" table.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ identity.Store = (*Store)(nil)

// OpenSQLite opens (creating if needed) the database file at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlstore: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return open(ctx, db, SQLite)
}

// OpenPostgres connects through the pgx driver and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	return open(ctx, db, Postgres)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := New(db, dialect)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open handle. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the identities table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const columns = `id, version, handle, email, full_name, avatar_url, password_hash,
	email_verified, role, provider, provider_subject, provider_refresh_token, refresh_digest,
	verify_digest, verify_issued_at, verify_expires_at,
	reset_digest, reset_issued_at, reset_expires_at, created_at, updated_at`

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	if ident == nil || ident.ID == "" || ident.Email == "" {
		return identity.ErrInvalid
	}
	query := s.rebind(`INSERT INTO identities (id, version, handle, email, email_lower, full_name,
		avatar_url, password_hash, email_verified, role, provider, provider_subject, subject_key,
		provider_refresh_token, refresh_digest, verify_digest, verify_issued_at, verify_expires_at,
		reset_digest, reset_issued_at, reset_expires_at, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		ident.ID, nullable(ident.Handle), ident.Email, strings.ToLower(ident.Email),
		ident.FullName, ident.AvatarURL, ident.PasswordHash, boolInt(ident.EmailVerified), ident.Role,
		ident.Provider, ident.ProviderSubject, nullable(ident.SubjectKey()),
		ident.ProviderRefreshToken, ident.RefreshDigest,
		nullable(ident.EmailVerification.Digest), toMillis(ident.EmailVerification.IssuedAt), toMillis(ident.EmailVerification.ExpiresAt),
		nullable(ident.PasswordReset.Digest), toMillis(ident.PasswordReset.IssuedAt), toMillis(ident.PasswordReset.ExpiresAt),
		toMillis(ident.CreatedAt), toMillis(ident.UpdatedAt),
	)
	return s.writeError(err)
}

func (s *Store) Get(ctx context.Context, id string) (*identity.Identity, error) {
	ident, _, err := s.selectOne(ctx, "id = ?", id)
	return ident, err
}

func (s *Store) FindBy(ctx context.Context, field identity.Field, value string) (*identity.Identity, error) {
	if value == "" {
		return nil, identity.ErrNotFound
	}
	var where string
	switch field {
	case identity.FieldID:
		where = "id = ?"
	case identity.FieldEmail:
		where, value = "email_lower = ?", strings.ToLower(value)
	case identity.FieldHandle:
		where = "handle = ?"
	case identity.FieldSubject:
		where = "subject_key = ?"
	default:
		return nil, identity.ErrNotFound
	}
	ident, _, err := s.selectOne(ctx, where, value)
	return ident, err
}

func (s *Store) FindByProof(ctx context.Context, kind identity.ProofKind, digest string) (*identity.Identity, error) {
	if digest == "" {
		return nil, identity.ErrNotFound
	}
	var where string
	switch kind {
	case identity.ProofEmailVerification:
		where = "verify_digest = ?"
	case identity.ProofPasswordReset:
		where = "reset_digest = ?"
	default:
		return nil, identity.ErrNotFound
	}
	ident, _, err := s.selectOne(ctx, where, digest)
	return ident, err
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*identity.Identity) error) (*identity.Identity, error) {
	query := s.rebind(`UPDATE identities SET version = version + 1,
		handle = ?, email = ?, email_lower = ?, full_name = ?, avatar_url = ?, password_hash = ?,
		email_verified = ?, role = ?, provider = ?, provider_subject = ?, subject_key = ?,
		provider_refresh_token = ?, refresh_digest = ?,
		verify_digest = ?, verify_issued_at = ?, verify_expires_at = ?,
		reset_digest = ?, reset_issued_at = ?, reset_expires_at = ?,
		created_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`)

	for i := 0; i < maxUpdateRetries; i++ {
		cur, version, err := s.selectOne(ctx, "id = ?", id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.ID = cur.ID
		if next.Equal(cur) {
			return cur, nil
		}

		res, err := s.db.ExecContext(ctx, query,
			nullable(next.Handle), next.Email, strings.ToLower(next.Email), next.FullName, next.AvatarURL, next.PasswordHash,
			boolInt(next.EmailVerified), next.Role, next.Provider, next.ProviderSubject, nullable(next.SubjectKey()),
			next.ProviderRefreshToken, next.RefreshDigest,
			nullable(next.EmailVerification.Digest), toMillis(next.EmailVerification.IssuedAt), toMillis(next.EmailVerification.ExpiresAt),
			nullable(next.PasswordReset.Digest), toMillis(next.PasswordReset.IssuedAt), toMillis(next.PasswordReset.ExpiresAt),
			toMillis(next.CreatedAt), toMillis(next.UpdatedAt),
			id, version,
		)
		if err != nil {
			return nil, s.writeError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, unavailable(err)
		}
		if n == 1 {
			return next, nil
		}
	}
	return nil, identity.ErrContention
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM identities WHERE id = ?"), id); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) selectOne(ctx context.Context, where string, arg any) (*identity.Identity, int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+columns+" FROM identities WHERE "+where), arg)

	var (
		ident                       identity.Identity
		version                     int64
		handle, verifyDig, resetDig sql.NullString
		verified                    int64
		vIssued, vExpires           int64
		rIssued, rExpires           int64
		createdAt, updatedAt        int64
	)
	err := row.Scan(
		&ident.ID, &version, &handle, &ident.Email, &ident.FullName, &ident.AvatarURL, &ident.PasswordHash,
		&verified, &ident.Role, &ident.Provider, &ident.ProviderSubject, &ident.ProviderRefreshToken, &ident.RefreshDigest,
		&verifyDig, &vIssued, &vExpires,
		&resetDig, &rIssued, &rExpires, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, identity.ErrNotFound
	}
	if err != nil {
		return nil, 0, unavailable(err)
	}

	ident.Handle = handle.String
	ident.EmailVerified = verified != 0
	ident.EmailVerification = identity.Proof{Digest: verifyDig.String, IssuedAt: fromMillis(vIssued), ExpiresAt: fromMillis(vExpires)}
	ident.PasswordReset = identity.Proof{Digest: resetDig.String, IssuedAt: fromMillis(rIssued), ExpiresAt: fromMillis(rExpires)}
	ident.CreatedAt = fromMillis(createdAt)
	ident.UpdatedAt = fromMillis(updatedAt)
	return &ident, version, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

func (s *Store) writeError(err error) error {
	if err == nil {
		return nil
	}
	if name, ok := s.uniqueViolation(err); ok {
		return &identity.ConflictError{Field: constraintField(name)}
	}
	return unavailable(err)
}

// uniqueViolation reports the constraint (PostgreSQL) or column list (SQLite)
// named by a uniqueness failure.
func (s *Store) uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == "23505"
	}
	msg := err.Error()
	for _, marker := range []string{"UNIQUE constraint failed: ", "PRIMARY KEY constraint failed: "} {
		if i := strings.Index(msg, marker); i >= 0 {
			return msg[i+len(marker):], true
		}
	}
	return "", false
}

func constraintField(name string) identity.Field {
	switch {
	case strings.Contains(name, "email"):
		return identity.FieldEmail
	case strings.Contains(name, "handle"):
		return identity.FieldHandle
	case strings.Contains(name, "subject"):
		return identity.FieldSubject
	case strings.Contains(name, "digest"):
		return identity.FieldProof
	default:
		return identity.FieldID
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
