package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrSessionNotFound indicates no live session exists for the contact.
// Expired sessions are indistinguishable from absent ones.
var ErrSessionNotFound = errors.New("conversation: session not found")

// SessionStore persists per-contact dialogue sessions with expiry.
type SessionStore interface {
	Get(ctx context.Context, contactID string) (*Session, error)
	Put(ctx context.Context, contactID string, session *Session) error
	Clear(ctx context.Context, contactID string) error
}

const defaultSessionTTL = 30 * time.Minute

// RedisSessionStore stores sessions as JSON values with a TTL so abandoned
// dialogues silently reset to START.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisSessionStore creates a session store with the given TTL.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("saudeflow.internal.conversation.sessions"),
	}
}

func (s *RedisSessionStore) Get(ctx context.Context, contactID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_get")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(contactID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	if !session.State.Valid() {
		// Defunct payloads from older layouts restart the dialogue.
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, contactID string, session *Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.session_put")
	defer span.End()

	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to encode session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(contactID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Clear(ctx context.Context, contactID string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.session_clear")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(contactID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to clear session: %w", err)
	}
	return nil
}

func sessionKey(contactID string) string {
	return fmt.Sprintf("session:%s", contactID)
}
