// Package stats keeps per-community ride event counters in Redis. The
// consumer process writes them and the API reads them.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/events"
)

const keyPrefix = "community:stats:"

// Key is the Redis hash holding the counters for one community.
func Key(name string) string {
	return keyPrefix + strings.ToLower(name)
}

// Updater is the subset of Redis writes the consumer needs.
type Updater interface {
	HIncrBy(ctx context.Context, key, field string, n int64) error
}

type RedisUpdater struct{ C *redis.Client }

func (r *RedisUpdater) HIncrBy(ctx context.Context, key, field string, n int64) error {
	return r.C.HIncrBy(ctx, key, field, n).Err()
}

// ApplyWithRetry increments the event's counter in every community the ride
// is posted to, retrying each write with doubling delay.
func ApplyWithRetry(ctx context.Context, u Updater, e events.Event, attempts int, delay time.Duration) error {
	for _, c := range e.Communities {
		if err := incrWithRetry(ctx, u, Key(c), string(e.Type), attempts, delay); err != nil {
			return fmt.Errorf("community %s: %w", c, err)
		}
	}
	return nil
}

func incrWithRetry(ctx context.Context, u Updater, key, field string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = u.HIncrBy(ctx, key, field, 1); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

type Reader struct{ C *redis.Client }

// Community returns the counters for n keyed by event type. Unknown
// communities yield an empty map.
func (r *Reader) Community(ctx context.Context, n community.Name) (map[string]int64, error) {
	raw, err := r.C.HGetAll(ctx, Key(n.String())).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", field, err)
		}
		out[field] = i
	}
	return out, nil
}
