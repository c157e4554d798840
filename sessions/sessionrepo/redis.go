package sessionrepo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/awesome-pro/stack/sessions"
)

var _ sessions.Store = (*Redis)(nil)

const sessionKeyPrefix = "stack:session:"

// rotateScript performs the compare-and-rotate as a single atomic step on the
// Redis side. Returns 1 on success, 0 on mismatch or revoked, -1 when the
// session does not exist.
var rotateScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
if redis.call('HGET', key, 'revoked') == '1' then
	return 0
end
if redis.call('HGET', key, 'refresh_id') ~= ARGV[1] then
	return 0
end
redis.call('HSET', key, 'refresh_id', ARGV[2], 'rotated_at', ARGV[3])
return 1
`)

// Redis stores sessions as hashes with an optional TTL on the whole lineage.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	nowFunc func() time.Time
}

type RedisOption func(*Redis)

// WithSessionTTL bounds the lifetime of a session key regardless of rotations.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithRedisNowFunc sets the now time function (primarily for testing)
func WithRedisNowFunc(now func() time.Time) RedisOption {
	return func(r *Redis) {
		r.nowFunc = now
	}
}

func NewRedis(client redis.UniversalClient, options ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Redis) Create(ctx context.Context, userID string) (*sessions.Session, error) {
	now := r.nowFunc()
	session := &sessions.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		RefreshID: uuid.New().String(),
		CreatedAt: now,
		RotatedAt: now,
	}

	key := sessionKeyPrefix + session.ID
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", session.UserID,
		"refresh_id", session.RefreshID,
		"created_at", session.CreatedAt.UTC().Format(time.RFC3339Nano),
		"rotated_at", session.RotatedAt.UTC().Format(time.RFC3339Nano),
		"revoked", "0",
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "sessionrepo.Redis.Create")
	}

	return session, nil
}

func (r *Redis) GetByID(ctx context.Context, id string) (*sessions.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return nil, errors.Wrap(err, "sessionrepo.Redis.GetByID")
	}
	if len(fields) == 0 {
		return nil, sessions.ErrSessionNotFound
	}

	session := &sessions.Session{
		ID:        id,
		UserID:    fields["user_id"],
		RefreshID: fields["refresh_id"],
		Revoked:   fields["revoked"] == "1",
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, errors.Wrap(err, "sessionrepo.Redis.GetByID created_at")
	}
	if session.RotatedAt, err = time.Parse(time.RFC3339Nano, fields["rotated_at"]); err != nil {
		return nil, errors.Wrap(err, "sessionrepo.Redis.GetByID rotated_at")
	}

	return session, nil
}

func (r *Redis) CompareAndRotate(ctx context.Context, id, expected, next string) (bool, error) {
	rotatedAt := r.nowFunc().UTC().Format(time.RFC3339Nano)
	result, err := rotateScript.Run(ctx, r.client,
		[]string{sessionKeyPrefix + id}, expected, next, rotatedAt).Int()
	if err != nil {
		return false, errors.Wrap(err, "sessionrepo.Redis.CompareAndRotate")
	}

	switch result {
	case 1:
		return true, nil
	case -1:
		return false, sessions.ErrSessionNotFound
	default:
		return false, nil
	}
}

func (r *Redis) Revoke(ctx context.Context, id string) error {
	key := sessionKeyPrefix + id
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "sessionrepo.Redis.Revoke")
	}
	if exists == 0 {
		return sessions.ErrSessionNotFound
	}
	return errors.Wrap(r.client.HSet(ctx, key, "revoked", "1").Err(), "sessionrepo.Redis.Revoke")
}
