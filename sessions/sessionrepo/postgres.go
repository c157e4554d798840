package sessionrepo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/sessions"
)

var _ sessions.Store = (*Postgres)(nil)

// Schema creates the table used by the Postgres session store.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	refresh_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	rotated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id);
`

// Postgres stores sessions in PostgreSQL. The rotation check-and-set is a
// single conditional UPDATE, so concurrent rotations against the same
// identifier resolve to exactly one winner at the database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the store schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "sessionrepo.Postgres.Migrate")
}

func (p *Postgres) Create(ctx context.Context, userID string) (*sessions.Session, error) {
	session := &sessions.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		RefreshID: uuid.New().String(),
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, refresh_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, rotated_at`,
		session.ID, session.UserID, session.RefreshID)
	if err := row.Scan(&session.CreatedAt, &session.RotatedAt); err != nil {
		return nil, errors.Wrap(err, "sessionrepo.Postgres.Create")
	}

	return session, nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*sessions.Session, error) {
	session := &sessions.Session{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, refresh_id, created_at, rotated_at, revoked
		FROM sessions WHERE id = $1`, id).
		Scan(&session.ID, &session.UserID, &session.RefreshID,
			&session.CreatedAt, &session.RotatedAt, &session.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sessionrepo.Postgres.GetByID")
	}
	return session, nil
}

func (p *Postgres) CompareAndRotate(ctx context.Context, id, expected, next string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET refresh_id = $1, rotated_at = $2
		WHERE id = $3 AND refresh_id = $4 AND NOT revoked`,
		next, time.Now().UTC(), id, expected)
	if err != nil {
		return false, errors.Wrap(err, "sessionrepo.Postgres.CompareAndRotate")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish a missing session from a failed compare.
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "sessionrepo.Postgres.CompareAndRotate exists")
	}
	if !exists {
		return false, sessions.ErrSessionNotFound
	}
	return false, nil
}

func (p *Postgres) Revoke(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE sessions SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "sessionrepo.Postgres.Revoke")
	}
	if tag.RowsAffected() == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}
