package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dimension names a principal axis the shared limiter accounts against.
// A single request is checked against every dimension that has a non-empty
// key in its Principal (api key, user, team, org, end-user) plus the model.
type Dimension string

const (
	DimensionAPIKey Dimension = "key"
	DimensionUser   Dimension = "user"
	DimensionTeam   Dimension = "team"
	DimensionOrg    Dimension = "org"
	DimensionModel  Dimension = "model"
	DimensionEndUser Dimension = "end_user"
)

// Limit caps requests-per-minute, tokens-per-minute, and spend for one
// dimension value (e.g. one API key, or team:acme).
type Limit struct {
	RPM       int64
	TPM       int64
	MaxSpendCents int64
}

// SharedLimiter enforces RPM/TPM/spend limits across gateway replicas
// using Redis counters keyed by dimension+window, so every instance sees
// the same usage instead of the process-local counters in
// TokenBudgetManager. Lua scripts give check+increment atomicity without
// round-tripping twice per request.
type SharedLimiter struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewSharedLimiter creates a limiter backed by rdb.
func NewSharedLimiter(rdb *redis.Client, logger *zap.Logger) *SharedLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedLimiter{rdb: rdb, logger: logger}
}

// checkAndIncrScript atomically increments the counter at KEYS[1] by
// ARGV[3] (one request, a token estimate, or a cost, depending on the
// caller) and rejects if that would exceed the limit ARGV[1]; the key
// expires ARGV[2] seconds after it is created. Returns {1, count after
// increment} on admission or {0, current count} on rejection.
var checkAndIncrScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local incr = tonumber(ARGV[3])
	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end
	if limit > 0 and current + incr > limit then
		return {0, current}
	end
	local new = redis.call('INCRBY', key, incr)
	if new == incr then
		redis.call('EXPIRE', key, window)
	end
	return {1, new}
`)

// Admit checks whether a request of estimatedTokens/costCents is allowed
// under every dimension present in dims, and if so, records it. It
// returns the first dimension whose limit would be exceeded, or "" if
// admitted. On admission all counters have already been incremented.
// SharedLimiter has no method that rolls increments back: counters a
// request incremented stay incremented until their window key expires,
// including those of dimensions checked before a rejecting one.
func (s *SharedLimiter) Admit(ctx context.Context, dims map[Dimension]string, limits map[Dimension]Limit, estimatedTokens int64, costCents int64) (string, error) {
	now := time.Now()
	minuteBucket := now.Unix() / 60

	for dim, value := range dims {
		if value == "" {
			continue
		}
		limit, ok := limits[dim]
		if !ok {
			continue
		}

		if limit.RPM > 0 {
			key := s.key(dim, value, "rpm", minuteBucket)
			ok, count, err := s.checkAndIncr(ctx, key, limit.RPM, 90, 1)
			if err != nil {
				return "", fmt.Errorf("rpm check %s=%s: %w", dim, value, err)
			}
			if !ok {
				return string(dim), &LimitExceededError{Dimension: dim, Value: value, Kind: "rpm", Limit: limit.RPM, Current: count}
			}
		}

		if limit.TPM > 0 && estimatedTokens > 0 {
			key := s.key(dim, value, "tpm", minuteBucket)
			ok, count, err := s.checkAndIncr(ctx, key, limit.TPM, 90, estimatedTokens)
			if err != nil {
				return "", fmt.Errorf("tpm check %s=%s: %w", dim, value, err)
			}
			if !ok {
				return string(dim), &LimitExceededError{Dimension: dim, Value: value, Kind: "tpm", Limit: limit.TPM, Current: count}
			}
		}

		if limit.MaxSpendCents > 0 && costCents > 0 {
			dayBucket := now.Truncate(24 * time.Hour).Unix()
			key := s.key(dim, value, "spend", dayBucket)
			ok, count, err := s.checkAndIncr(ctx, key, limit.MaxSpendCents, 90000, costCents)
			if err != nil {
				return "", fmt.Errorf("spend check %s=%s: %w", dim, value, err)
			}
			if !ok {
				return string(dim), &LimitExceededError{Dimension: dim, Value: value, Kind: "spend", Limit: limit.MaxSpendCents, Current: count}
			}
		}
	}

	return "", nil
}

func (s *SharedLimiter) checkAndIncr(ctx context.Context, key string, limit, windowSec, incr int64) (bool, int64, error) {
	res, err := checkAndIncrScript.Run(ctx, s.rdb, []string{key}, limit, windowSec, incr).Slice()
	if err != nil {
		return false, 0, err
	}
	ok := res[0].(int64) == 1
	count := res[1].(int64)
	return ok, count, nil
}

func (s *SharedLimiter) key(dim Dimension, value, kind string, bucket int64) string {
	return fmt.Sprintf("llm:budget:%s:%s:%s:%d", dim, value, kind, bucket)
}

// LimitExceededError reports which dimension/kind tripped the limiter.
type LimitExceededError struct {
	Dimension Dimension
	Value     string
	Kind      string
	Limit     int64
	Current   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s=%s: %d/%d", e.Kind, e.Dimension, e.Value, e.Current, e.Limit)
}
