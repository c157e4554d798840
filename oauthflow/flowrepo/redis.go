package flowrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/awesome-pro/stack/oauthflow"
)

var _ oauthflow.Repo = (*Redis)(nil)

const flowKeyPrefix = "stack:oauthflow:"

// consumeScript checks the consumed flag and sets it in one atomic step.
// Returns the serialized record on success, 0 when already consumed, -1 when
// the record does not exist.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
if redis.call('HGET', key, 'consumed') == '1' then
	return 0
end
redis.call('HSET', key, 'consumed', '1')
return redis.call('HGET', key, 'record')
`)

// updateStatusScript swaps the status and re-serialized record only if the
// status has not moved since it was read. Returns 1 on success, 0 when the
// status changed underneath, -1 when the record does not exist.
var updateStatusScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
if redis.call('HGET', key, 'status') ~= ARGV[1] then
	return 0
end
redis.call('HSET', key, 'status', ARGV[2], 'record', ARGV[3])
return 1
`)

// Redis stores flow records as hashes with a record payload plus a consumed
// flag, expiring with the flow's TTL.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Create(ctx context.Context, flow *oauthflow.FlowState) error {
	payload, err := json.Marshal(flow)
	if err != nil {
		return errors.Wrap(err, "flowrepo.Redis.Create marshal")
	}

	key := flowKeyPrefix + flow.State
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "record", payload, "consumed", "0", "status", string(flow.Status))
	if ttl := time.Until(flow.ExpiresAt); ttl > 0 {
		// Keep the key a little past expiry so late duplicate callbacks get a
		// deterministic ErrFlowStateInvalid instead of a dangling record.
		pipe.Expire(ctx, key, ttl+time.Minute)
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "flowrepo.Redis.Create")
}

func (r *Redis) Consume(ctx context.Context, state string) (*oauthflow.FlowState, error) {
	result, err := consumeScript.Run(ctx, r.client, []string{flowKeyPrefix + state}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "flowrepo.Redis.Consume")
	}

	switch v := result.(type) {
	case int64:
		if v == -1 {
			return nil, oauthflow.ErrFlowStateInvalid
		}
		return nil, oauthflow.ErrFlowAlreadyConsumed
	case string:
		flow := &oauthflow.FlowState{}
		if err := json.Unmarshal([]byte(v), flow); err != nil {
			return nil, errors.Wrap(err, "flowrepo.Redis.Consume unmarshal")
		}
		flow.Consumed = true
		return flow, nil
	default:
		return nil, errors.Errorf("flowrepo.Redis.Consume: unexpected script result %T", result)
	}
}

func (r *Redis) UpdateStatus(ctx context.Context, state string, status oauthflow.Status) error {
	key := flowKeyPrefix + state

	vals, err := r.client.HMGet(ctx, key, "status", "record").Result()
	if err != nil {
		return errors.Wrap(err, "flowrepo.Redis.UpdateStatus read")
	}
	currentRaw, okStatus := vals[0].(string)
	recordRaw, okRecord := vals[1].(string)
	if !okStatus || !okRecord {
		return oauthflow.ErrFlowStateInvalid
	}

	current := oauthflow.Status(currentRaw)
	if !current.CanTransition(status) {
		return errors.Errorf("invalid flow transition %s -> %s", current, status)
	}

	flow := &oauthflow.FlowState{}
	if err := json.Unmarshal([]byte(recordRaw), flow); err != nil {
		return errors.Wrap(err, "flowrepo.Redis.UpdateStatus unmarshal")
	}
	flow.Status = status
	payload, err := json.Marshal(flow)
	if err != nil {
		return errors.Wrap(err, "flowrepo.Redis.UpdateStatus marshal")
	}

	result, err := updateStatusScript.Run(ctx, r.client, []string{key},
		currentRaw, string(status), payload).Result()
	if err != nil {
		return errors.Wrap(err, "flowrepo.Redis.UpdateStatus")
	}
	switch v, _ := result.(int64); v {
	case -1:
		return oauthflow.ErrFlowStateInvalid
	case 0:
		return errors.Errorf("flow %s changed status during transition to %s", state, status)
	}
	return nil
}

// DeleteExpired is a no-op for Redis: records carry a key TTL and expire on
// their own.
func (r *Redis) DeleteExpired(context.Context, time.Time) error {
	return nil
}
