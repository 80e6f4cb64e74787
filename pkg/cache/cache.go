package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// ScoredMember is one entry of a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// Service is the key/value surface every store in the service is built on.
// Values are serialized on the way in, so readers always get their own copy.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// SetNX writes only when key is absent and reports whether it did. Atomic.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	// PushCapped prepends value to a list, trims it to maxLen and refreshes its TTL.
	PushCapped(ctx context.Context, key string, value interface{}, maxLen int, expiration time.Duration) error
	// Range returns up to limit list items, newest first.
	Range(ctx context.Context, key string, limit int) ([][]byte, error)
	// Touch scores member with at and drops members older than at-expiration.
	Touch(ctx context.Context, key, member string, at time.Time, expiration time.Duration) error
	// Recent lists members scored at or after since, highest score first.
	Recent(ctx context.Context, key string, since time.Time, limit int) ([]ScoredMember, error)
	Close() error
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cache: encode: %w", err)
		}
		return b, nil
	}
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("cache: decode: %w", err)
		}
		return nil
	}
}

// RangeTyped decodes every list item into T, skipping entries that no longer parse.
func RangeTyped[T any](ctx context.Context, c Service, key string, limit int) ([]T, error) {
	raw, err := c.Range(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
