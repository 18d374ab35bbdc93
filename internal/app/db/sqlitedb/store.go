// Package sqlitedb provides a single-file SQLite store.Store built on the pure-Go modernc driver.
package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"relay/internal/app/store"
	"relay/internal/app/user"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store persists identities and messages in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return store.ErrAlreadyExists
	default:
		return fmt.Errorf("%w: %s: %v", store.ErrStoreUnavailable, op, err)
	}
}

func affectedOrNotFound(op string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// secretBytes maps a missing secret (system identities) to an empty blob; the column is NOT NULL.
func secretBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (s *Store) FindIdentity(ctx context.Context, id string) (user.Identity, error) {
	var (
		ident            user.Identity
		role             string
		mutedUntil, born int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, secret_hash, role, display_image, bio, contact_handle,
		muted_until, mute_indefinite, kicked, created_at FROM identities WHERE id = ?`, id).
		Scan(&ident.ID, &ident.SecretHash, &role,
			&ident.Profile.DisplayImage, &ident.Profile.Bio, &ident.Profile.ContactHandle,
			&mutedUntil, &ident.Mute.Indefinite, &ident.Kicked, &born)
	if err != nil {
		return user.Identity{}, classify("find identity", err)
	}
	ident.Role = user.Role(role)
	ident.Mute.Until = fromMillis(mutedUntil)
	ident.CreatedAt = fromMillis(born)
	return ident, nil
}

func (s *Store) CreateIdentity(ctx context.Context, ident user.Identity) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO identities
		(id, secret_hash, role, display_image, bio, contact_handle, muted_until, mute_indefinite, kicked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID, secretBytes(ident.SecretHash), string(ident.Role),
		ident.Profile.DisplayImage, ident.Profile.Bio, ident.Profile.ContactHandle,
		toMillis(ident.Mute.Until), ident.Mute.Indefinite, ident.Kicked, toMillis(ident.CreatedAt))
	return classify("create identity", err)
}

func (s *Store) SaveIdentity(ctx context.Context, ident user.Identity) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE identities SET
		secret_hash = ?, role = ?, display_image = ?, bio = ?, contact_handle = ?,
		muted_until = ?, mute_indefinite = ?, kicked = ?
		WHERE id = ?`,
		secretBytes(ident.SecretHash), string(ident.Role),
		ident.Profile.DisplayImage, ident.Profile.Bio, ident.Profile.ContactHandle,
		toMillis(ident.Mute.Until), ident.Mute.Indefinite, ident.Kicked, ident.ID)
	return affectedOrNotFound("save identity", res, err)
}

// inTx runs fn in one transaction, rolling back on any error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) RenameIdentity(ctx context.Context, oldID, newID string) (int, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var avatar string
		if err := tx.QueryRowContext(ctx, `UPDATE identities SET id = ? WHERE id = ? RETURNING display_image`,
			newID, oldID).Scan(&avatar); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE messages SET author_id = ?, author_avatar = ? WHERE author_id = ?`,
			newID, avatar, oldID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, classify("rename identity", err)
	}
	return int(n), nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id, tombstoneID string) (int, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if deleted, err := res.RowsAffected(); err != nil {
			return err
		} else if deleted == 0 {
			return sql.ErrNoRows
		}
		res, err = tx.ExecContext(ctx, `UPDATE messages SET author_id = ?, author_avatar = '' WHERE author_id = ?`,
			tombstoneID, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, classify("delete identity", err)
	}
	return int(n), nil
}

func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT count(*) FROM identities`).Scan(&n); err != nil {
		return 0, classify("count identities", err)
	}
	return n, nil
}

func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO messages
		(id, author_id, author_role, author_avatar, body, created_at, visibility)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AuthorID, string(m.AuthorRole), m.AuthorAvatar, m.Body, toMillis(m.CreatedAt), string(m.Visibility))
	return classify("append message", err)
}

func (s *Store) RecentMessages(ctx context.Context, n int) ([]store.Message, error) {
	out := []store.Message{}
	if n <= 0 {
		return out, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, author_id, author_role, author_avatar, body, created_at, visibility
		FROM (SELECT * FROM messages ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC`, n)
	if err != nil {
		return nil, classify("recent messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m                store.Message
			role, visibility string
			createdAt        int64
		)
		if err := rows.Scan(&m.ID, &m.AuthorID, &role, &m.AuthorAvatar, &m.Body, &createdAt, &visibility); err != nil {
			return nil, classify("scan message", err)
		}
		m.AuthorRole = user.Role(role)
		m.Visibility = store.Visibility(visibility)
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("recent messages", err)
	}
	return out, nil
}

func (s *Store) PurgeMessages(ctx context.Context, f store.MessageFilter) (int, error) {
	var (
		conds []string
		args  []any
	)
	if f.AuthorID != "" {
		conds = append(conds, "author_id = ?")
		args = append(args, f.AuthorID)
	}
	if !f.Before.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, toMillis(f.Before))
	}
	query := `DELETE FROM messages`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("purge messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("purge messages", err)
	}
	return int(n), nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

var _ store.Store = (*Store)(nil)
