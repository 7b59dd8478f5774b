package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// redisPutGrantScript stores a grant and its secret index atomically.
// KEYS[1] = grant key, KEYS[2] = secret index key, KEYS[3] = owner index key
// ARGV[1] = grant JSON, ARGV[2] = grant id, ARGV[3] = created_at unix seconds
// Returns 0 on success, 1 if the grant exists, 2 if the secret is bound.
var redisPutGrantScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
    return 2
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[2])
return 0
`)

// RedisGrantStore is a capabilities.Store on Redis. All keys live under
// the namespace prefix.
type RedisGrantStore struct {
	client    redis.UniversalClient
	namespace string
}

var _ capabilities.Store = (*RedisGrantStore)(nil)

// NewRedisGrantStore creates a store. An empty namespace defaults to
// "nondominium".
func NewRedisGrantStore(client redis.UniversalClient, namespace string) *RedisGrantStore {
	if namespace == "" {
		namespace = "nondominium"
	}
	return &RedisGrantStore{client: client, namespace: namespace}
}

func (s *RedisGrantStore) grantKey(id string) string { return s.namespace + ":grant:" + id }
func (s *RedisGrantStore) secretKey(d string) string { return s.namespace + ":grant-secret:" + d }
func (s *RedisGrantStore) ownerKey(owner contracts.AgentID) string {
	return s.namespace + ":grants-by-owner:" + string(owner)
}

func (s *RedisGrantStore) Put(ctx context.Context, g *capabilities.Grant) error {
	const op = "store.RedisGrantStore.Put"
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	keys := []string{s.grantKey(g.ID), s.secretKey(g.SecretDigest), s.ownerKey(g.Owner)}
	res, err := redisPutGrantScript.Run(ctx, s.client, keys, string(doc), g.ID, g.CreatedAt.Unix()).Int()
	if err != nil {
		return fmt.Errorf("%s: redis: %w", op, err)
	}
	switch res {
	case 0:
		return nil
	case 1:
		return contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, op, "grant %s already exists", g.ID)
	default:
		return contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, op, "secret already bound to a grant")
	}
}

func (s *RedisGrantStore) Get(ctx context.Context, id string) (*capabilities.Grant, error) {
	raw, err := s.client.Get(ctx, s.grantKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, capabilities.ErrGrantNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get grant: %w", err)
	}
	return decodeGrant(raw)
}

func (s *RedisGrantStore) FindBySecretDigest(ctx context.Context, digest string) (*capabilities.Grant, error) {
	id, err := s.client.Get(ctx, s.secretKey(digest)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "store.RedisGrantStore.FindBySecretDigest", "no grant for secret")
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis find grant: %w", err)
	}
	return s.Get(ctx, id)
}

// MarkRevoked sets the tombstone under an optimistic WATCH transaction.
func (s *RedisGrantStore) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	key := s.grantKey(id)
	var outcome error
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			outcome = capabilities.ErrGrantNotFound(id)
			return nil
		}
		if err != nil {
			return err
		}
		g, err := decodeGrant(raw)
		if err != nil {
			return err
		}
		if g.RevokedAt != nil {
			outcome = capabilities.ErrAlreadyRevoked(id)
			return nil
		}
		revoked := at.UTC()
		g.RevokedAt = &revoked
		doc, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("store: redis revoke grant: %w", err)
	}
	return outcome
}

func (s *RedisGrantStore) ListByOwner(ctx context.Context, owner contracts.AgentID) ([]*capabilities.Grant, error) {
	ids, err := s.client.ZRange(ctx, s.ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis list grants: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.grantKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis list grants: %w", err)
	}
	out := make([]*capabilities.Grant, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		g, err := decodeGrant([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	capabilities.SortGrants(out)
	return out, nil
}

func decodeGrant(raw []byte) (*capabilities.Grant, error) {
	var g capabilities.Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("store: decode grant: %w", err)
	}
	return &g, nil
}
