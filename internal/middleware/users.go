package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"flowgate/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UserManager resolves API keys to users, caching hits in redis when a
// client is configured
type UserManager struct {
	redis *redis.Client
	rdb   *sql.DB
	log   *zap.SugaredLogger
}

func NewUserManager(redisClient *redis.Client, rdb *sql.DB, log *zap.SugaredLogger) *UserManager {
	return &UserManager{redis: redisClient, rdb: rdb, log: log}
}

func (u *UserManager) GetUserMetadataFromKey(ctx context.Context, apiKey string) (*shared.UserMetadata, error) {
	var userMetadata shared.UserMetadata

	userInfoCacheKey := fmt.Sprintf("flowgate:user:apikey:%s", apiKey)
	var userInfoCache string
	var err error = redis.Nil
	if u.redis != nil {
		userInfoCache, err = u.redis.Get(ctx, userInfoCacheKey).Result()
	}
	switch err {
	case nil:
		err = json.Unmarshal([]byte(userInfoCache), &userMetadata)
		if err == nil {
			userMetadata.APIKey = apiKey
			return &userMetadata, nil
		}
		u.log.Errorw("Error unmarshalling user info cache", "error", err)
		fallthrough
	default:
		u.log.Debugw("User cache miss", "key", shared.MaskKey(apiKey))

		err = u.rdb.QueryRowContext(ctx, `
		SELECT
		user.id,
		user.email
		FROM user
		INNER JOIN api_key ON user.id = api_key.user_id
		WHERE api_key.id = ?
		`, apiKey).Scan(
			&userMetadata.UserID,
			&userMetadata.Email,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				u.log.Warnw("Invalid API key", "key", shared.MaskKey(apiKey))
				return nil, shared.ErrUnauthorized
			}
			u.log.Errorw("Database error during API key validation", "error", err)
			return nil, shared.ErrUnauthorized
		}
		userMetadata.APIKey = apiKey
		if u.redis == nil {
			return &userMetadata, nil
		}
		go func() {
			userInfoCache, err := json.Marshal(userMetadata)
			if err != nil {
				u.log.Errorw("Error marshalling user info", "error", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), shared.SessionTouchTimeout)
			defer cancel()
			if err := u.redis.Set(ctx, userInfoCacheKey, userInfoCache, shared.UserInfoCacheTTL).Err(); err != nil {
				u.log.Warnw("Failed caching user info", "error", err)
			}
		}()
		return &userMetadata, nil
	}
}
