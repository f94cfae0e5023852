package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrementer is the slice of the redis client RedisSequencer needs.
type incrementer interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisSequencer uses INCR, which is atomic on the server.
type RedisSequencer struct {
	client incrementer
	prefix string
}

func NewRedisSequencer(client redis.UniversalClient) *RedisSequencer {
	return &RedisSequencer{client: client, prefix: "clinicbill:seq"}
}

func (s *RedisSequencer) Next(ctx context.Context, scope Scope) (int64, error) {
	if !scope.valid() {
		return 0, ErrInvalidScope
	}
	n, err := s.client.Incr(ctx, s.key(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", scope.Name, err)
	}
	return n, nil
}

func (s *RedisSequencer) key(scope Scope) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope.ClinicID.String(), scope.Name)
}
