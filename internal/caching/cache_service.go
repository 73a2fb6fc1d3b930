package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "fixit:"

type CacheService interface {
	// PropertyUser caching, keyed by user. A miss returns (nil, false, nil).
	GetPropertyUsers(ctx context.Context, userID uuid.UUID) ([]*models.PropertyUser, bool, error)
	SetPropertyUsers(ctx context.Context, userID uuid.UUID, rows []*models.PropertyUser, ttl time.Duration) error
	InvalidatePropertyUsers(ctx context.Context, userID uuid.UUID) error

	// Session management for refresh tokens
	SetSession(ctx context.Context, sessionID string, userID uuid.UUID, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (uuid.UUID, bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
	// RevokeUserSessions drops every session issued to the user
	RevokeUserSessions(ctx context.Context, userID uuid.UUID) error

	// Rate limiting
	IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Generic string operations for token management
	SetString(ctx context.Context, key string, value string, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	// TakeString reads and deletes in one step; one-time tokens use it.
	TakeString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

type redisCacheService struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisClient accepts host:port or a redis:// / rediss:// URL.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if password != "" {
			opts.Password = password
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

func NewRedisCacheService(client *redis.Client, logger *logrus.Logger) CacheService {
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).WithField("addr", client.Options().Addr).Warn("Redis ping failed on initialization")
	} else {
		logger.WithField("addr", client.Options().Addr).Debug("Redis connection established")
	}
	return &redisCacheService{client: client, logger: logger}
}

func propertyUsersKey(userID uuid.UUID) string { return keyPrefix + "property-users:" + userID.String() }
func sessionKey(sessionID string) string       { return keyPrefix + "session:" + sessionID }
func userSessionsKey(userID uuid.UUID) string  { return keyPrefix + "user-sessions:" + userID.String() }
func rateLimitKey(key string) string           { return keyPrefix + "ratelimit:" + key }

func (r *redisCacheService) GetPropertyUsers(ctx context.Context, userID uuid.UUID) ([]*models.PropertyUser, bool, error) {
	data, err := r.client.Get(ctx, propertyUsersKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // cache miss
		}
		return nil, false, err
	}
	var rows []*models.PropertyUser
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (r *redisCacheService) SetPropertyUsers(ctx context.Context, userID uuid.UUID, rows []*models.PropertyUser, ttl time.Duration) error {
	if rows == nil {
		rows = []*models.PropertyUser{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, propertyUsersKey(userID), data, ttl).Err()
}

func (r *redisCacheService) InvalidatePropertyUsers(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, propertyUsersKey(userID)).Err()
}

func (r *redisCacheService) SetSession(ctx context.Context, sessionID string, userID uuid.UUID, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sessionID), userID.String(), ttl)
		pipe.SAdd(ctx, userSessionsKey(userID), sessionID)
		pipe.Expire(ctx, userSessionsKey(userID), ttl)
		return nil
	})
	return err
}

func (r *redisCacheService) GetSession(ctx context.Context, sessionID string) (uuid.UUID, bool, error) {
	val, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil // not found
		}
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt session entry: %w", err)
	}
	return id, true, nil
}

func (r *redisCacheService) DeleteSession(ctx context.Context, sessionID string) error {
	userID, ok, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	if ok {
		pipe.SRem(ctx, userSessionsKey(userID), sessionID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisCacheService) RevokeUserSessions(ctx context.Context, userID uuid.UUID) error {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(userID))
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	cacheKey := rateLimitKey(key)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, cacheKey)
		// the window starts with the first hit
		pipe.ExpireNX(ctx, cacheKey, window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() > int64(limit), nil
}

func (r *redisCacheService) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (r *redisCacheService) GetString(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil // cache miss
		}
		return "", err
	}
	return val, nil
}

func (r *redisCacheService) TakeString(ctx context.Context, key string) (string, error) {
	val, err := r.client.GetDel(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

func (r *redisCacheService) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCacheService) Close() error {
	return r.client.Close()
}
