package ratelimiter

import (
	"context"
	"time"
)

// Store is the shared-store side of the Limiter Client's contract: one
// atomic admission evaluation and one best-effort reconciliation, both
// executed server-side so no client ever holds a lock. The production
// implementation (RedisStore) runs the two Lua routines against
// go-redis; tests run against fakestore, an in-memory implementation of
// the identical semantics.
type Store interface {
	// Admit runs the admission script: prune, check, and — only on
	// success — record. window is W; limits are the credential's three
	// caps; inputTokens and outputTokensEstimate are the pre-flight
	// counts from the Token Estimator.
	Admit(ctx context.Context, credential string, window time.Duration, limits Limits, inputTokens, outputTokensEstimate int64) (Verdict, error)

	// Reconcile applies delta (actual-minus-estimated output tokens,
	// possibly negative) to the output bucket recorded at
	// submitSecond, clamped at zero, or does nothing if that bucket
	// has already aged out. It never denies.
	Reconcile(ctx context.Context, credential string, submitSecond int64, delta int64, window time.Duration) error
}
