package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relay/internal/app/store"
	"relay/internal/app/user"
)

// Store is the PostgreSQL store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool. Close releases it.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const identityColumns = `id, secret_hash, role, display_image, bio, contact_handle,
	muted_until, mute_indefinite, kicked, created_at`

func scanIdentity(row pgx.Row) (user.Identity, error) {
	var (
		ident      user.Identity
		role       string
		mutedUntil *time.Time
	)
	err := row.Scan(&ident.ID, &ident.SecretHash, &role,
		&ident.Profile.DisplayImage, &ident.Profile.Bio, &ident.Profile.ContactHandle,
		&mutedUntil, &ident.Mute.Indefinite, &ident.Kicked, &ident.CreatedAt)
	if err != nil {
		return user.Identity{}, err
	}
	ident.Role = user.Role(role)
	if mutedUntil != nil {
		ident.Mute.Until = *mutedUntil
	}
	return ident, nil
}

// secretBytes maps a missing secret (system identities) to an empty value; the column is NOT NULL.
func secretBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) FindIdentity(ctx context.Context, id string) (user.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	ident, err := scanIdentity(row)
	if err != nil {
		return user.Identity{}, classify("find identity", err)
	}
	return ident, nil
}

func (s *Store) CreateIdentity(ctx context.Context, ident user.Identity) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ident.ID, secretBytes(ident.SecretHash), string(ident.Role),
		ident.Profile.DisplayImage, ident.Profile.Bio, ident.Profile.ContactHandle,
		nullableTime(ident.Mute.Until), ident.Mute.Indefinite, ident.Kicked, ident.CreatedAt)
	return classify("create identity", err)
}

func (s *Store) SaveIdentity(ctx context.Context, ident user.Identity) error {
	tag, err := s.pool.Exec(ctx, `UPDATE identities SET
		secret_hash = $2, role = $3, display_image = $4, bio = $5, contact_handle = $6,
		muted_until = $7, mute_indefinite = $8, kicked = $9
		WHERE id = $1`,
		ident.ID, secretBytes(ident.SecretHash), string(ident.Role),
		ident.Profile.DisplayImage, ident.Profile.Bio, ident.Profile.ContactHandle,
		nullableTime(ident.Mute.Until), ident.Mute.Indefinite, ident.Kicked)
	if err != nil {
		return classify("save identity", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RenameIdentity(ctx context.Context, oldID, newID string) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var avatar string
		if err := tx.QueryRow(ctx, `UPDATE identities SET id = $2 WHERE id = $1 RETURNING display_image`,
			oldID, newID).Scan(&avatar); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE messages SET author_id = $2, author_avatar = $3 WHERE author_id = $1`,
			oldID, newID, avatar)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, classify("rename identity", err)
	}
	return n, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id, tombstoneID string) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		tag, err = tx.Exec(ctx, `UPDATE messages SET author_id = $2, author_avatar = '' WHERE author_id = $1`,
			id, tombstoneID)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, classify("delete identity", err)
	}
	return n, nil
}

func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM identities`).Scan(&n); err != nil {
		return 0, classify("count identities", err)
	}
	return n, nil
}

func (s *Store) AppendMessage(ctx context.Context, m store.Message) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO messages
		(id, author_id, author_role, author_avatar, body, created_at, visibility)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.AuthorID, string(m.AuthorRole), m.AuthorAvatar, m.Body, m.CreatedAt, string(m.Visibility))
	return classify("append message", err)
}

func (s *Store) RecentMessages(ctx context.Context, n int) ([]store.Message, error) {
	out := []store.Message{}
	if n <= 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id, author_id, author_role, author_avatar, body, created_at, visibility
		FROM (SELECT * FROM messages ORDER BY seq DESC LIMIT $1) recent
		ORDER BY seq ASC`, n)
	if err != nil {
		return nil, classify("recent messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m                store.Message
			role, visibility string
		)
		if err := rows.Scan(&m.ID, &m.AuthorID, &role, &m.AuthorAvatar, &m.Body, &m.CreatedAt, &visibility); err != nil {
			return nil, classify("scan message", err)
		}
		m.AuthorRole = user.Role(role)
		m.Visibility = store.Visibility(visibility)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("recent messages", err)
	}
	return out, nil
}

// purgeWhere renders f as a WHERE clause and its positional arguments.
func purgeWhere(f store.MessageFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.AuthorID != "" {
		args = append(args, f.AuthorID)
		conds = append(conds, "author_id = $"+strconv.Itoa(len(args)))
	}
	if !f.Before.IsZero() {
		args = append(args, f.Before)
		conds = append(conds, "created_at < $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) PurgeMessages(ctx context.Context, f store.MessageFilter) (int, error) {
	where, args := purgeWhere(f)
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages`+where, args...)
	if err != nil {
		return 0, classify("purge messages", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ store.Store = (*Store)(nil)
