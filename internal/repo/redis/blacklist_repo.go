package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
)

const revokedTokenPrefix = "revoked_tokens:"

// BlacklistRepo stores consumed refresh tokens. Entries expire together
// with the token they block, so the set never outgrows the live token
// population.
type BlacklistRepo struct {
	client *goredis.Client
}

func NewBlacklistRepo(client *goredis.Client) *BlacklistRepo {
	return &BlacklistRepo{client: client}
}

// Add records the token as spent. SETNX makes the contains-then-add step
// atomic per token value: exactly one concurrent caller observes firstUse.
func (r *BlacklistRepo) Add(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(token) == "" {
		return false, sessionsvc.ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	firstUse, err := r.client.SetNX(ctx, revokedTokenKey(token), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist token: %w", err)
	}

	return firstUse, nil
}

func (r *BlacklistRepo) Contains(ctx context.Context, token string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(token) == "" {
		return false, sessionsvc.ErrInvalidInput
	}

	n, err := r.client.Exists(ctx, revokedTokenKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklisted token: %w", err)
	}

	return n > 0, nil
}

func revokedTokenKey(token string) string {
	return revokedTokenPrefix + token
}
