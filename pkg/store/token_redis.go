package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTokenPrefix = "docassist:token"

// RedisTokenStore keeps opaque tokens in Redis with TTL. Only the sha256 of
// the secret is used as key material.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisTokenStore builds a Redis-backed token store. A zero ttl keeps
// tokens until they are revoked.
func NewRedisTokenStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTokenStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultTokenPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisTokenStore{client: client, prefix: prefix, ttl: ttl}
}

// IssueToken writes a hash -> userID mapping.
func (s *RedisTokenStore) IssueToken(userID uint) (string, error) {
	secret, err := newTokenSecret()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key(secret), strconv.FormatUint(uint64(userID), 10), s.ttl).Err(); err != nil {
		return "", err
	}
	return secret, nil
}

// UserIDByToken resolves a token to its user ID.
func (s *RedisTokenStore) UserIDByToken(token string) (uint, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil || id == 0 {
		return 0, false, nil
	}
	return uint(id), true, nil
}

// RevokeToken removes a token mapping.
func (s *RedisTokenStore) RevokeToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *RedisTokenStore) key(secret string) string {
	return s.prefix + ":" + hashTokenSecret(secret)
}
