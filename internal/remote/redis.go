package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key.
	Prefix string
	// GuardTTL bounds how long ApplyOnce guards are remembered.
	GuardTTL time.Duration
}

// RedisStore is a DocumentStore backed by Redis hashes.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	guardTTL time.Duration
}

// applyOnceScript sets the guard key with NX and applies the increments only
// if it was not already present. KEYS[1] is the guard, KEYS[2..] the counter
// hashes; ARGV[1] is the guard TTL in seconds, followed by field and delta
// pairs for each counter key.
var applyOnceScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[1]) then
  return 0
end
for i = 2, #KEYS do
  redis.call('HINCRBY', KEYS[i], ARGV[2 * i - 2], ARGV[2 * i - 1])
end
return 1
`)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, Network("connect", err)
	}
	return newRedisStore(client, cfg), nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	ttl := cfg.GuardTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, guardTTL: ttl}
}

func (s *RedisStore) docKey(collection, id string) string {
	return s.prefix + "doc:" + collection + ":" + id
}

func (s *RedisStore) counterKey(collection, id string) string {
	return s.prefix + "ctr:" + collection + ":" + id
}

func (s *RedisStore) guardKey(guard string) string {
	return s.prefix + "guard:" + guard
}

func (s *RedisStore) Upsert(ctx context.Context, collection, id string, fields map[string]any) error {
	values, err := hashValues(fields)
	if err != nil {
		return Rejected("upsert", "fields not encodable", err)
	}
	if len(values) == 0 {
		return nil
	}
	return translateRedis("upsert", s.client.HSet(ctx, s.docKey(collection, id), values).Err())
}

// hashValues flattens fields into hash values. Strings are stored as-is,
// everything else as JSON.
func hashValues(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func (s *RedisStore) ApplyOnce(ctx context.Context, guard string, incs []Increment) (bool, error) {
	keys, args := s.scriptArgs(guard, incs)
	n, err := applyOnceScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return false, translateRedis("apply_once", err)
	}
	return n == 1, nil
}

func (s *RedisStore) scriptArgs(guard string, incs []Increment) ([]string, []any) {
	keys := make([]string, 0, len(incs)+1)
	args := make([]any, 0, 2*len(incs)+1)
	keys = append(keys, s.guardKey(guard))
	args = append(args, int64(s.guardTTL/time.Second))
	for _, inc := range incs {
		keys = append(keys, s.counterKey(inc.Collection, inc.DocID))
		args = append(args, inc.Field, inc.Delta)
	}
	return keys, args
}

func (s *RedisStore) Counters(ctx context.Context, collection, docID string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.counterKey(collection, docID)).Result()
	if err != nil {
		return nil, translateRedis("counters", err)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s.%s: %w", docID, field, err)
		}
		out[field] = n
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return translateRedis("ping", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// translateRedis treats server error replies as rejections and everything
// else as transport failures.
func translateRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) && !errors.Is(err, redis.Nil) {
		return Rejected(op, "server error reply", err)
	}
	return Network(op, err)
}
