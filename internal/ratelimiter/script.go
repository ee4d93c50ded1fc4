package ratelimiter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed admit.lua
var admitScriptSource string

//go:embed reconcile.lua
var reconcileScriptSource string

// Slack is added to the window length when setting key TTLs, so a
// credential's state outlives the window it describes by a small
// margin rather than expiring exactly on the boundary.
const Slack = 5 * time.Second

// RedisStore runs the admission and reconciliation scripts against a
// shared go-redis client, using the standard EVAL/EVALSHA pattern for
// atomic multi-step Redis operations.
type RedisStore struct {
	rdb       redis.Cmdable
	admit     *redis.Script
	reconcile *redis.Script
}

// NewRedisStore wraps rdb. rdb may be a *redis.Client or a
// *redis.ClusterClient; this package only ever touches one credential's
// keys per call, so no cross-slot restriction applies as long as a
// credential's nine keys hash to the same slot (achieved by using the
// credential as a Redis hash tag, see keyNames).
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		admit:     redis.NewScript(admitScriptSource),
		reconcile: redis.NewScript(reconcileScriptSource),
	}
}

// keyNames returns the nine keys for credential's three dimensions, in
// the fixed order req, in, out, following the layout
// rl:{k}:{d}:{idx|buckets|total}. The {k} component is wrapped in curly
// braces as a cluster hash tag so a credential's keys always colocate.
func keyNames(credential string) (idx, buckets, totals [3]string) {
	dims := [3]string{"req", "in", "out"}
	for i, d := range dims {
		idx[i] = fmt.Sprintf("rl:{%s}:%s:idx", credential, d)
		buckets[i] = fmt.Sprintf("rl:{%s}:%s:buckets", credential, d)
		totals[i] = fmt.Sprintf("rl:{%s}:%s:total", credential, d)
	}
	return idx, buckets, totals
}

func (s *RedisStore) Admit(ctx context.Context, credential string, window time.Duration, limits Limits, inputTokens, outputTokensEstimate int64) (Verdict, error) {
	idx, buckets, totals := keyNames(credential)
	keys := []string{
		idx[0], idx[1], idx[2],
		buckets[0], buckets[1], buckets[2],
		totals[0], totals[1], totals[2],
	}
	windowSeconds := int64(window / time.Second)
	ttlSeconds := windowSeconds + int64(Slack/time.Second)

	res, err := s.admit.Run(ctx, s.rdb, keys,
		windowSeconds, limits.RPM, limits.ITPM, limits.OTPM,
		inputTokens, outputTokensEstimate, ttlSeconds,
	).Result()
	if err != nil {
		return Verdict{}, err
	}
	return parseAdmitResult(res)
}

func (s *RedisStore) Reconcile(ctx context.Context, credential string, submitSecond int64, delta int64, window time.Duration) error {
	idx, buckets, totals := keyNames(credential)
	keys := []string{idx[2], buckets[2], totals[2]}
	windowSeconds := int64(window / time.Second)

	_, err := s.reconcile.Run(ctx, s.rdb, keys, submitSecond, delta, windowSeconds).Result()
	return err
}

func parseAdmitResult(res interface{}) (Verdict, error) {
	fields, ok := res.([]interface{})
	if !ok || len(fields) == 0 {
		return Verdict{}, errors.New("ratelimiter: malformed admit result")
	}

	tag, ok := fields[0].(string)
	if !ok {
		return Verdict{}, errors.New("ratelimiter: malformed admit result tag")
	}

	switch tag {
	case "ALLOW":
		if len(fields) < 2 {
			return Verdict{}, errors.New("ratelimiter: ALLOW result missing submit_second")
		}
		submitSecond, err := toInt64(fields[1])
		if err != nil {
			return Verdict{}, fmt.Errorf("ratelimiter: ALLOW submit_second: %w", err)
		}
		return Verdict{Outcome: Allow, SubmitSecond: submitSecond}, nil
	case "DENY":
		if len(fields) < 3 {
			return Verdict{}, errors.New("ratelimiter: DENY result missing dimension/retry_after_ms")
		}
		dim, ok := fields[1].(string)
		if !ok {
			return Verdict{}, errors.New("ratelimiter: DENY dimension not a string")
		}
		retryAfterMs, err := toInt64(fields[2])
		if err != nil {
			return Verdict{}, fmt.Errorf("ratelimiter: DENY retry_after_ms: %w", err)
		}
		return Verdict{Outcome: Deny, Dimension: Dimension(dim), RetryAfterMs: retryAfterMs}, nil
	default:
		return Verdict{}, fmt.Errorf("ratelimiter: unexpected admit tag %q", tag)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
