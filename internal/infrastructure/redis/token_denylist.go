package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient initializes a redis client
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func keyRevokedRefresh(jti string) string { return "auth:refresh:revoked:" + jti }

// TokenDenylist remembers revoked refresh token IDs until the token would have expired anyway.
type TokenDenylist struct {
	rdb *goredis.Client
}

func NewTokenDenylist(rdb *goredis.Client) *TokenDenylist {
	return &TokenDenylist{rdb: rdb}
}

// Revoke marks jti as unusable until the given expiry. It reports false when jti
// was already revoked, which makes it the single-use gate for refresh rotation.
// Already-expired tokens are a no-op.
func (d *TokenDenylist) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	if jti == "" {
		return false, errors.New("empty token id")
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return true, nil
	}
	return d.rdb.SetNX(ctx, keyRevokedRefresh(jti), "1", ttl).Result()
}

// IsRevoked reports whether jti was revoked.
func (d *TokenDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.rdb.Exists(ctx, keyRevokedRefresh(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
