package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token ids and per-subject revocation cutoffs until expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RevokeSubject invalidates every token for subject issued before cutoff.
	RevokeSubject(ctx context.Context, subject string, cutoff time.Time, ttl time.Duration) error
	RevokedAfter(ctx context.Context, subject string) (time.Time, error)
}

type expiringCutoff struct {
	cutoff time.Time
	expiry time.Time
}

// MemoryTokenRevoker keeps revocations in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu       sync.Mutex
	tokens   map[string]time.Time
	subjects map[string]expiringCutoff
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:   make(map[string]time.Time),
		subjects: make(map[string]expiringCutoff),
	}
}

// Revoke marks a token id as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[jti] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token id is revoked.
func (r *MemoryTokenRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, jti)
		return false, nil
	}
	return true, nil
}

// RevokeSubject records cutoff for subject. An older cutoff never replaces a newer one.
func (r *MemoryTokenRevoker) RevokeSubject(_ context.Context, subject string, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subjects[subject]; ok && cur.cutoff.After(cutoff) && time.Now().Before(cur.expiry) {
		return nil
	}
	r.subjects[subject] = expiringCutoff{cutoff: cutoff.UTC(), expiry: time.Now().Add(ttl)}
	return nil
}

// RevokedAfter returns the active cutoff for subject, or the zero time.
func (r *MemoryTokenRevoker) RevokedAfter(_ context.Context, subject string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subjects[subject]
	if !ok {
		return time.Time{}, nil
	}
	if time.Now().After(cur.expiry) {
		delete(r.subjects, subject)
		return time.Time{}, nil
	}
	return cur.cutoff, nil
}

var subjectCutoffScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// RedisTokenRevoker stores revocations in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a revoker on a shared Redis client.
func NewRedisTokenRevoker(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client}
}

// Revoke marks a token id as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(jti), "1", ttl).Err()
}

// IsRevoked checks if the token id is revoked.
func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// RevokeSubject stores the cutoff in unix milliseconds, keeping the newest value.
func (r *RedisTokenRevoker) RevokeSubject(ctx context.Context, subject string, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return subjectCutoffScript.Run(ctx, r.client,
		[]string{subjectRevocationKey(subject)},
		cutoff.UTC().UnixMilli(), ttl.Milliseconds(),
	).Err()
}

// RevokedAfter returns the active cutoff for subject, or the zero time.
func (r *RedisTokenRevoker) RevokedAfter(ctx context.Context, subject string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, subjectRevocationKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}

func revocationKey(jti string) string {
	return "promptapi:revoked:" + jti
}

func subjectRevocationKey(subject string) string {
	return "promptapi:revoked_subject:" + subject
}
