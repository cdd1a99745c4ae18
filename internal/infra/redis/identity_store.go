package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizizz-client/internal/domain"
)

// IdentityStore persists the active session identity in Redis so a restarted
// client process can resume a game attempt with rejoin_room. The TTL should
// comfortably outlast one game.
type IdentityStore struct {
	client   *redis.Client
	clientID string
	ttl      time.Duration
}

func NewIdentityStore(client *redis.Client, clientID string, ttl time.Duration) *IdentityStore {
	return &IdentityStore{client: client, clientID: clientID, ttl: ttl}
}

func (s *IdentityStore) Save(ctx context.Context, identity domain.SessionIdentity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return s.client.Set(ctx, s.key(), data, s.ttl).Err()
}

func (s *IdentityStore) Load(ctx context.Context) (domain.SessionIdentity, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionIdentity{}, domain.ErrIdentityNotFound
	}
	if err != nil {
		return domain.SessionIdentity{}, err
	}
	var identity domain.SessionIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return domain.SessionIdentity{}, fmt.Errorf("unmarshal identity: %w", err)
	}
	return identity, nil
}

func (s *IdentityStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key()).Err()
}

func (s *IdentityStore) key() string {
	return "quiz:identity:" + s.clientID
}
