package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "ipi:session:"
	blacklistKeyPrefix = "blacklist:"
)

// ErrSessionNotFound is returned when a session id has no stored tokens
var ErrSessionNotFound = errors.New("session not found")

// StoredSession is what survives a restart: enough to call SetSession again
type StoredSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AuthUser     string    `json:"auth_user"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionRepository keeps BFF session tokens and the revoked-token blacklist in Redis
type SessionRepository struct {
	rdb *redis.Client
}

func NewSessionRepository(rdb *redis.Client) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

// Save stores (or replaces) the tokens of a session for ttl
func (r *SessionRepository) Save(ctx context.Context, sid string, s StoredSession, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKeyPrefix+sid, data, ttl).Err()
}

// UpdateTokens replaces the token pair and keeps the remaining TTL
func (r *SessionRepository) UpdateTokens(ctx context.Context, sid, accessToken, refreshToken string) error {
	s, err := r.Find(ctx, sid)
	if err != nil {
		return err
	}
	s.AccessToken, s.RefreshToken = accessToken, refreshToken

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKeyPrefix+sid, data, redis.KeepTTL).Err()
}

// Find loads a session
func (r *SessionRepository) Find(ctx context.Context, sid string) (*StoredSession, error) {
	data, err := r.rdb.Get(ctx, sessionKeyPrefix+sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s StoredSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete forgets a session
func (r *SessionRepository) Delete(ctx context.Context, sid string) error {
	return r.rdb.Del(ctx, sessionKeyPrefix+sid).Err()
}

// Blacklist revokes a token id until it would have expired anyway
func (r *SessionRepository) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, blacklistKeyPrefix+jti, "revoked", ttl).Err()
}

// IsBlacklisted reports whether a token id was revoked
func (r *SessionRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
