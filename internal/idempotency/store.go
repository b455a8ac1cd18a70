// Package idempotency remembers the response to a request submitted under
// an Idempotency-Key so a retry gets the same answer instead of a second
// ledger mutation.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultLockTTL   = 30 * time.Second
	DefaultRetention = 24 * time.Hour

	processing = "processing"
)

// ErrInProgress is returned by Begin while another request holds the key.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Response is a stored reply.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store keeps keys in Redis. A key is either the processing marker, held
// for LockTTL, or a completed Response, held for Retention.
type Store struct {
	rdb       *redis.Client
	lockTTL   time.Duration
	retention time.Duration
}

type Option func(*Store)

func WithLockTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, lockTTL: DefaultLockTTL, retention: DefaultRetention}
	for _, o := range opts {
		o(s)
	}
	return s
}

func storageKey(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

// Begin claims key for scope. It returns the stored response when the key
// already completed, ErrInProgress when another request holds it, and
// (nil, nil) when the caller now owns the key and must call Complete or
// Release.
func (s *Store) Begin(ctx context.Context, scope, key string) (*Response, error) {
	k := storageKey(scope, key)
	ok, err := s.rdb.SetNX(ctx, k, processing, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", k, err)
	}
	if ok {
		return nil, nil
	}
	val, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = s.rdb.SetNX(ctx, k, processing, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", k, err)
		}
		if ok {
			return nil, nil
		}
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", k, err)
	}
	if val == processing {
		return nil, ErrInProgress
	}
	var resp Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return &resp, nil
}

// Complete stores the final response for key.
func (s *Store) Complete(ctx context.Context, scope, key string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, storageKey(scope, key), raw, s.retention).Err()
}

// Release drops the claim so the request can be retried.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, storageKey(scope, key)).Err()
}
