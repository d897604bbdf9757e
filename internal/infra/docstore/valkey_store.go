package docstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
)

// saveScript writes the payload and its generation only when no newer generation is stored.
var saveScript = valkey.NewLuaScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < current then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ttl)
  redis.call('SET', KEYS[2], ARGV[1], 'EX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
  redis.call('SET', KEYS[2], ARGV[1])
end
return 1
`)

// reserveScript bumps the per-key sequence past any generation already stored, so a sequence that
// expired or was lost never issues a generation the guard in saveScript would reject.
var reserveScript = valkey.NewLuaScript(`
local next = redis.call('INCR', KEYS[1])
local stored = tonumber(redis.call('GET', KEYS[2]) or '0')
if next <= stored then
  next = stored + 1
  redis.call('SET', KEYS[1], next)
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return next
`)

// ValkeyStore persists documents in a Valkey-compatible database so they survive restarts and are
// shared between replicas.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyStore constructs a store backed by Valkey.
func NewValkeyStore(client valkey.Client, prefix string, ttl time.Duration) *ValkeyStore {
	if prefix == "" {
		prefix = "pagedigest"
	}
	return &ValkeyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *ValkeyStore) Reserve(ctx context.Context, key string) (uint64, error) {
	keys := []string{s.sequenceKey(key), s.generationKey(key)}
	next, err := reserveScript.Exec(ctx, s.client, keys, []string{s.ttlSeconds()}).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("reserve generation: %w", err)
	}
	return uint64(next), nil
}

func (s *ValkeyStore) Save(ctx context.Context, key string, generation uint64, payload []byte) (bool, error) {
	keys := []string{s.docKey(key), s.generationKey(key)}
	args := []string{strconv.FormatUint(generation, 10), string(payload), s.ttlSeconds()}
	written, err := saveScript.Exec(ctx, s.client, keys, args).AsInt64()
	if err != nil {
		return false, fmt.Errorf("save document: %w", err)
	}
	return written == 1, nil
}

func (s *ValkeyStore) Load(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.docKey(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	return payload, nil
}

func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(s.docKey(key), s.generationKey(key)).Build()).Error()
}

func (s *ValkeyStore) ttlSeconds() string {
	if s.ttl <= 0 {
		return "0"
	}
	return strconv.FormatInt(max(int64(s.ttl/time.Second), 1), 10)
}

func (s *ValkeyStore) docKey(key string) string {
	return fmt.Sprintf("%s:doc:%s", s.prefix, key)
}

func (s *ValkeyStore) generationKey(key string) string {
	return fmt.Sprintf("%s:doc:%s:gen", s.prefix, key)
}

func (s *ValkeyStore) sequenceKey(key string) string {
	return fmt.Sprintf("%s:doc:%s:seq", s.prefix, key)
}

var _ Store = (*ValkeyStore)(nil)
