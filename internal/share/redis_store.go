// Package share stores share grants: opaque tokens that give comment access
// to one document on behalf of its owner.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"draftroom/api/internal/auth"
	"draftroom/api/internal/util"
	"github.com/redis/go-redis/v9"
)

var ErrGrantNotFound = errors.New("share grant not found or expired")

// Grant is what a share token resolves to.
type Grant struct {
	Token       string    `json:"-"`
	DocumentID  string    `json:"document_id"`
	OwnerID     string    `json:"owner_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type IssueInput struct {
	DocumentID  string
	OwnerID     string
	DisplayName string
	Email       string
}

// RedisStore keeps grants under a hash of their token so a leaked keyspace
// dump does not leak usable tokens.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "share:",
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + auth.HashToken(token)
}

// Issue mints a new token for input and stores it for ttl.
func (s *RedisStore) Issue(ctx context.Context, input IssueInput, ttl time.Duration) (Grant, error) {
	if strings.TrimSpace(input.DocumentID) == "" || strings.TrimSpace(input.OwnerID) == "" {
		return Grant{}, fmt.Errorf("issue share grant: document and owner are required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	now := time.Now().UTC()
	grant := Grant{
		Token:       util.NewToken(32),
		DocumentID:  input.DocumentID,
		OwnerID:     input.OwnerID,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Email:       strings.TrimSpace(input.Email),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(grant)
	if err != nil {
		return Grant{}, fmt.Errorf("marshal share grant: %w", err)
	}
	if err := s.client.Set(ctx, s.key(grant.Token), payload, ttl).Err(); err != nil {
		return Grant{}, fmt.Errorf("save share grant: %w", err)
	}
	return grant, nil
}

// Resolve returns the grant for token or ErrGrantNotFound.
func (s *RedisStore) Resolve(ctx context.Context, token string) (Grant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Grant{}, ErrGrantNotFound
	}
	payload, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Grant{}, ErrGrantNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("lookup share grant: %w", err)
	}

	var grant Grant
	if err := json.Unmarshal([]byte(payload), &grant); err != nil {
		return Grant{}, fmt.Errorf("unmarshal share grant: %w", err)
	}
	grant.Token = token
	return grant, nil
}

// Revoke deletes the grant; revoking an unknown token is not an error.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke share grant: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
