// Package redis provides a Redis-backed session snapshot store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

// KeyPrefix namespaces snapshot keys.
const KeyPrefix = "tollgate:session:"

// DefaultTTL applies to snapshots without an EndDate.
const DefaultTTL = 24 * time.Hour

// SessionStore implements session.SessionStore on Redis. Snapshots are
// stored as JSON and expire at the session's EndDate.
type SessionStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithTTL sets the expiry used for snapshots without an EndDate.
func WithTTL(ttl time.Duration) Option {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewSessionStore connects to addr and verifies the connection with PING.
func NewSessionStore(ctx context.Context, addr, password string, db int, opts ...Option) (*SessionStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewSessionStoreWithClient(client, opts...), nil
}

// NewSessionStoreWithClient wraps an existing client.
func NewSessionStoreWithClient(client *goredis.Client, opts ...Option) *SessionStore {
	s := &SessionStore{client: client, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new snapshot.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	data, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", sess.ID, err)
	}
	return nil
}

// Get retrieves a snapshot by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if sess.IsExpired() {
		return nil, session.ErrSessionNotFound
	}
	return &sess, nil
}

// Update overwrites an existing snapshot and refreshes its TTL.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	data, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}
	ok, err := s.client.SetXX(ctx, key(sess.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", sess.ID, err)
	}
	if !ok {
		return session.ErrSessionNotFound
	}
	return nil
}

// Delete removes a snapshot.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) encode(sess *session.Session) ([]byte, time.Duration, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, 0, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return data, s.expiry(sess), nil
}

// expiry returns the time left until EndDate, or the default TTL when unset.
func (s *SessionStore) expiry(sess *session.Session) time.Duration {
	if sess.EndDate.IsZero() {
		return s.ttl
	}
	return sess.EndDate.Sub(s.now())
}

func key(id string) string {
	return KeyPrefix + id
}

// Compile-time interface verification.
var _ session.SessionStore = (*SessionStore)(nil)
