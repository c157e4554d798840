package userrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/internal/utils"
	"github.com/awesome-pro/stack/users"
)

var _ users.Repo = (*Postgres)(nil)

// Schema creates the tables used by the Postgres user repository.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                        TEXT PRIMARY KEY,
	display_name              TEXT,
	email                     TEXT UNIQUE,
	email_verified            BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash             TEXT NOT NULL DEFAULT '',
	client_metadata           JSONB NOT NULL DEFAULT '{}',
	client_read_only_metadata JSONB NOT NULL DEFAULT '{}',
	server_metadata           JSONB NOT NULL DEFAULT '{}',
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login                TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS provider_identities (
	provider  TEXT NOT NULL,
	subject   TEXT NOT NULL,
	user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	linked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (provider, subject)
);
`

// Postgres stores users in PostgreSQL via a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the repository schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "userrepo.Postgres.Migrate")
}

const userColumns = `id, display_name, email, email_verified, password_hash,
	client_metadata, client_read_only_metadata, server_metadata, created_at, last_login`

func (p *Postgres) GetByID(ctx context.Context, id string) (*users.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return p.scanUser(ctx, row)
}

func (p *Postgres) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return p.scanUser(ctx, row)
}

func (p *Postgres) GetByProviderIdentity(ctx context.Context, provider, subject string) (*users.User, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users u
		JOIN provider_identities pi ON pi.user_id = u.id
		WHERE pi.provider = $1 AND pi.subject = $2`, provider, subject)
	return p.scanUser(ctx, row)
}

func (p *Postgres) Create(ctx context.Context, user *users.User) error {
	clientMeta, err := marshalMetadata(user.ClientMetadata)
	if err != nil {
		return err
	}
	clientROMeta, err := marshalMetadata(user.ClientReadOnlyMetadata)
	if err != nil {
		return err
	}
	serverMeta, err := marshalMetadata(user.ServerMetadata)
	if err != nil {
		return err
	}

	var email any
	emailVerified := false
	if user.PrimaryEmail != nil {
		email = user.PrimaryEmail.Address
		emailVerified = user.PrimaryEmail.Verified
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "userrepo.Postgres.Create begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO users (id, display_name, email, email_verified, password_hash,
			client_metadata, client_read_only_metadata, server_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		user.ID, user.DisplayName, email, emailVerified, user.PasswordHash,
		clientMeta, clientROMeta, serverMeta)
	if err != nil {
		return errors.Wrap(err, "userrepo.Postgres.Create insert")
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserExists
	}

	for _, identity := range user.ProviderIdentities {
		if _, err := tx.Exec(ctx, `
			INSERT INTO provider_identities (provider, subject, user_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			identity.Provider, identity.Subject, user.ID); err != nil {
			return errors.Wrap(err, "userrepo.Postgres.Create link identity")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "userrepo.Postgres.Create commit")
}

func (p *Postgres) UpdateMetadata(ctx context.Context, id string, partition users.Partition, patch users.Metadata) error {
	var column string
	switch partition {
	case users.PartitionClient:
		column = "client_metadata"
	case users.PartitionClientReadOnly:
		column = "client_read_only_metadata"
	case users.PartitionServer:
		column = "server_metadata"
	default:
		return users.ErrBadPartition
	}

	patchJSON, err := marshalMetadata(patch)
	if err != nil {
		return err
	}

	// jsonb || jsonb merges at the top level, matching Metadata.Merge.
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET `+column+` = `+column+` || $1::jsonb WHERE id = $2`,
		patchJSON, id)
	if err != nil {
		return errors.Wrap(err, "userrepo.Postgres.UpdateMetadata")
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (p *Postgres) LinkProviderIdentity(ctx context.Context, id string, identity users.ProviderIdentity) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO provider_identities (provider, subject, user_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		identity.Provider, identity.Subject, id)
	return errors.Wrap(err, "userrepo.Postgres.LinkProviderIdentity")
}

func (p *Postgres) TouchLastLogin(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET last_login = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "userrepo.Postgres.TouchLastLogin")
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (p *Postgres) scanUser(ctx context.Context, row pgx.Row) (*users.User, error) {
	var (
		user          users.User
		email         *string
		emailVerified bool
		clientMeta    []byte
		clientROMeta  []byte
		serverMeta    []byte
		lastLogin     *time.Time
	)

	err := row.Scan(&user.ID, &user.DisplayName, &email, &emailVerified, &user.PasswordHash,
		&clientMeta, &clientROMeta, &serverMeta, &user.CreatedAt, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "userrepo.Postgres scan")
	}

	if email != nil {
		user.PrimaryEmail = &users.Email{Address: *email, Verified: emailVerified}
	}
	user.LastLogin = utils.Value(lastLogin)

	if user.ClientMetadata, err = unmarshalMetadata(clientMeta); err != nil {
		return nil, err
	}
	if user.ClientReadOnlyMetadata, err = unmarshalMetadata(clientROMeta); err != nil {
		return nil, err
	}
	if user.ServerMetadata, err = unmarshalMetadata(serverMeta); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT provider, subject, linked_at FROM provider_identities WHERE user_id = $1`, user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "userrepo.Postgres identities")
	}
	defer rows.Close()
	for rows.Next() {
		var identity users.ProviderIdentity
		if err := rows.Scan(&identity.Provider, &identity.Subject, &identity.LinkedAt); err != nil {
			return nil, errors.Wrap(err, "userrepo.Postgres identities scan")
		}
		user.ProviderIdentities = append(user.ProviderIdentities, identity)
	}

	return &user, rows.Err()
}

func marshalMetadata(m users.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	return data, errors.Wrap(err, "userrepo marshal metadata")
}

func unmarshalMetadata(data []byte) (users.Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m users.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "userrepo unmarshal metadata")
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
