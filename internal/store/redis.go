package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
)

const (
	sequenceKey    = "chat:seq"
	submissionTTL  = 7 * 24 * time.Hour
	cacheTTL       = 24 * time.Hour
	registrationNS = "chat:peers"
)

// assignScript returns the sequence number already assigned to a submission,
// or allocates the next one and remembers it. Runs atomically in Redis.
var assignScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[2])
if existing then
	return {tonumber(existing), 1}
end
local seq = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], seq, 'EX', ARGV[1])
return {seq, 0}
`)

// appendScript adds a message to its chatroom unless the uid is already
// logged there, and returns the sequence number held for the uid.
// ARGV[4] is the expiry in seconds, 0 for none.
var appendScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[2], ARGV[1])
if existing then
	return tonumber(existing)
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
	redis.call('EXPIRE', KEYS[2], ttl)
end
return tonumber(ARGV[2])
`)

// RedisStore handles Redis operations for sequencing, submission dedupe and
// recent-message caching.
type RedisStore struct {
	client     *redis.Client
	messageTTL time.Duration
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, messageTTL: cacheTTL}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, messageTTL: cacheTTL}
}

// KeepMessages stops chatroom messages from expiring. Call it before serving
// when Redis is the message log rather than a cache in front of Postgres.
func (s *RedisStore) KeepMessages() {
	s.messageTTL = 0
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// submissionKey returns the key remembering the sequence of a submitted message.
func submissionKey(uid string) string {
	return fmt.Sprintf("chat:submission:%s", uid)
}

// chatroomMessagesKey returns the key for a chatroom's message sorted set.
func chatroomMessagesKey(chatroom string) string {
	return fmt.Sprintf("chat:room:%s:messages", chatroom)
}

// chatroomUIDsKey returns the key mapping a chatroom's message uids to
// sequence numbers.
func chatroomUIDsKey(chatroom string) string {
	return fmt.Sprintf("chat:room:%s:uids", chatroom)
}

// Assign allocates the next global sequence number for uid. A uid seen before
// gets its original number back with duplicate set.
func (s *RedisStore) Assign(ctx context.Context, uid string) (int64, bool, error) {
	if uid == "" {
		return 0, false, errors.New("empty submission uid")
	}
	defer observe(metrics.RedisLatency, time.Now())

	res, err := assignScript.Run(ctx, s.client,
		[]string{sequenceKey, submissionKey(uid)},
		int64(submissionTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected assign result %v", res)
	}
	return res[0], res[1] == 1, nil
}

// Release drops the remembered sequence number of uid.
func (s *RedisStore) Release(ctx context.Context, uid string) error {
	return s.client.Del(ctx, submissionKey(uid)).Err()
}

// AppendMessage adds a sequenced message to its chatroom, scored by sequence
// number. A uid already in the chatroom is not added again; its sequence
// number is returned instead.
func (s *RedisStore) AppendMessage(ctx context.Context, msg *models.SequencedMessage) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	defer observe(metrics.RedisLatency, time.Now())

	return appendScript.Run(ctx, s.client,
		[]string{chatroomMessagesKey(msg.Chatroom), chatroomUIDsKey(msg.Chatroom)},
		msg.UID, msg.SeqNum, string(data), int64(s.messageTTL.Seconds()),
	).Int64()
}

// ListMessages returns cached messages of a chatroom after since, oldest first.
func (s *RedisStore) ListMessages(ctx context.Context, chatroom string, since int64, limit int) ([]models.SequencedMessage, error) {
	results, err := s.client.ZRangeByScore(ctx, chatroomMessagesKey(chatroom), &redis.ZRangeBy{
		Min:   fmt.Sprintf("(%d", since), // exclusive
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.SequencedMessage, 0, len(results))
	for _, data := range results {
		var msg models.SequencedMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// UpsertRegistration stores a registration in the peers hash.
func (s *RedisStore) UpsertRegistration(ctx context.Context, reg *models.Registration) error {
	reg.RegisteredAt = time.Now().UTC()
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, registrationNS, reg.Name, data).Err()
}

// GetRegistration retrieves a registration by peer name.
func (s *RedisStore) GetRegistration(ctx context.Context, name string) (*models.Registration, error) {
	data, err := s.client.HGet(ctx, registrationNS, name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var reg models.Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// CountRegistrations returns the number of registered peers.
func (s *RedisStore) CountRegistrations(ctx context.Context) (int64, error) {
	return s.client.HLen(ctx, registrationNS).Result()
}

// CurrentSequence returns the last sequence number handed out.
func (s *RedisStore) CurrentSequence(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, sequenceKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
