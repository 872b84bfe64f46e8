package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

// Records are stored zstd-compressed. Encoder and decoder are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("conversation: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("conversation: zstd decoder initialization failed: " + err.Error())
	}
}

// RedisOptions configures RedisStore.
type RedisOptions struct {
	URL       string
	KeyPrefix string
	// TTL expires idle conversations; zero keeps them forever.
	TTL time.Duration
}

// RedisStore implements Store on Redis. Each record lives under an
// owner-namespaced key and is indexed in per-owner sorted sets scored by
// update time. A separate claim key pins every id to its first owner.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type redisRecord struct {
	ID              string          `json:"id"`
	AgentName       string          `json:"agent_name"`
	OwnerID         string          `json:"owner_id"`
	Messages        json.RawMessage `json:"messages"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	EstimatedTokens int             `json:"estimated_tokens"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewRedisStore connects to the Redis server at opts.URL.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, opts RedisOptions) *RedisStore {
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = "opsdesk:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL, now: time.Now}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(ownerID, id string) string {
	return s.prefix + "conversation:" + url.PathEscape(ownerID) + ":" + url.PathEscape(id)
}

func (s *RedisStore) claimKey(id string) string {
	return s.prefix + "conversation-owner:" + url.PathEscape(id)
}

func (s *RedisStore) indexKey(ownerID, agentName string) string {
	key := s.prefix + "conversations:" + url.PathEscape(ownerID)
	if agentName != "" {
		key += ":agent:" + url.PathEscape(agentName)
	}
	return key
}

// Get loads a conversation owned by ownerID.
func (s *RedisStore) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	rec, err := s.loadRecord(ctx, s.recordKey(ownerID, id))
	if err != nil {
		return nil, err
	}
	return rec.conversation()
}

// Save replaces or inserts the record.
func (s *RedisStore) Save(ctx context.Context, in SaveInput) (*Conversation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	claimed, err := s.client.SetNX(ctx, s.claimKey(in.ID), in.OwnerID, s.ttl).Result()
	if err != nil {
		return nil, storageError("save", err)
	}
	if !claimed {
		owner, err := s.client.Get(ctx, s.claimKey(in.ID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, storageError("save", err)
		}
		if owner != in.OwnerID {
			return nil, ErrNotFound
		}
	}

	key := s.recordKey(in.OwnerID, in.ID)
	now := s.now().UTC()
	createdAt := now
	metadata := in.Metadata
	existing, err := s.loadRecord(ctx, key)
	switch {
	case err == nil:
		createdAt = existing.CreatedAt
		if metadata == nil {
			metadata = existing.Metadata
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	messagesJSON, err := EncodeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	rec := redisRecord{
		ID:              in.ID,
		AgentName:       in.AgentName,
		OwnerID:         in.OwnerID,
		Messages:        messagesJSON,
		EstimatedTokens: in.EstimatedTokens,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
	if metadata != nil {
		rec.Metadata = sanitizeMap(metadata)
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	payload := zstdEncoder.EncodeAll(encoded, nil)
	score := float64(now.UnixMilli())

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, s.ttl)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.claimKey(in.ID), s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(in.OwnerID, ""), redis.Z{Score: score, Member: in.ID})
		if in.AgentName != "" {
			pipe.ZAdd(ctx, s.indexKey(in.OwnerID, in.AgentName), redis.Z{Score: score, Member: in.ID})
		}
		if existing != nil && existing.AgentName != in.AgentName && existing.AgentName != "" {
			pipe.ZRem(ctx, s.indexKey(in.OwnerID, existing.AgentName), in.ID)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("save", err)
	}
	return rec.conversation()
}

// List returns the owner's conversations, most recently updated first.
func (s *RedisStore) List(ctx context.Context, q ListQuery) ([]Summary, error) {
	index := s.indexKey(q.OwnerID, strings.TrimSpace(q.AgentName))
	ids, err := s.client.ZRevRange(ctx, index, 0, int64(q.limit()-1)).Result()
	if err != nil {
		return nil, storageError("list", err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(q.OwnerID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storageError("list", err)
	}

	items := make([]Summary, 0, len(values))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		rec, err := decodeRedisRecord([]byte(raw))
		if err != nil {
			return nil, storageError("list", err)
		}
		conv, err := rec.conversation()
		if err != nil {
			return nil, err
		}
		items = append(items, Summarize(conv))
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, index, expired...).Err()
	}
	return filterPending(items, q.PendingOnly), nil
}

// Delete removes a conversation owned by ownerID.
func (s *RedisStore) Delete(ctx context.Context, id, ownerID string) error {
	key := s.recordKey(ownerID, id)
	rec, err := s.loadRecord(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, s.claimKey(id))
		pipe.ZRem(ctx, s.indexKey(ownerID, ""), id)
		if rec.AgentName != "" {
			pipe.ZRem(ctx, s.indexKey(ownerID, rec.AgentName), id)
		}
		return nil
	})
	if err != nil {
		return storageError("delete", err)
	}
	return nil
}

// Owner reports the owner of id from its claim key.
func (s *RedisStore) Owner(ctx context.Context, id string) (string, error) {
	owner, err := s.client.Get(ctx, s.claimKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageError("owner", err)
	}
	return owner, nil
}

func (s *RedisStore) loadRecord(ctx context.Context, key string) (*redisRecord, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("get", err)
	}
	rec, err := decodeRedisRecord(raw)
	if err != nil {
		return nil, storageError("get", err)
	}
	return rec, nil
}

func decodeRedisRecord(raw []byte) (*redisRecord, error) {
	decoded, err := zstdDecoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(decoded, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (r *redisRecord) conversation() (*Conversation, error) {
	msgs, err := DecodeMessages(r.Messages)
	if err != nil {
		return nil, storageError("decode", err)
	}
	return &Conversation{
		ID:              r.ID,
		AgentName:       r.AgentName,
		OwnerID:         r.OwnerID,
		Messages:        msgs,
		Metadata:        r.Metadata,
		EstimatedTokens: r.EstimatedTokens,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}
