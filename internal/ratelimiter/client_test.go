package ratelimiter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimit-gateway/internal/ratelimiter"
	"ratelimit-gateway/internal/ratelimiter/fakestore"
)

type staticLimits map[string]ratelimiter.Limits

func (m staticLimits) Lookup(credential string) (ratelimiter.Limits, bool) {
	l, ok := m[credential]
	return l, ok
}

func newClient(store ratelimiter.Store, limits staticLimits) *ratelimiter.Client {
	return &ratelimiter.Client{
		Store:  store,
		Limits: limits,
		Window: 60 * time.Second,
	}
}

// Scenario 1: rpm=2, three requests in the same second
// deny the third, a fourth a window later is admitted.
func TestScenario_RequestRateLimit(t *testing.T) {
	store := fakestore.New()
	base := time.Unix(1_700_000_000, 0)
	now := base
	store.Now = func() time.Time { return now }

	c := newClient(store, staticLimits{"k": {RPM: 2, ITPM: 1 << 30, OTPM: 1 << 30}})

	now = base.Add(0)
	_, err := c.TryAdmit(context.Background(), "k", 1, 0)
	require.NoError(t, err, "request 1: expected allow")

	now = base.Add(100 * time.Millisecond)
	_, err = c.TryAdmit(context.Background(), "k", 1, 0)
	require.NoError(t, err, "request 2: expected allow")

	now = base.Add(200 * time.Millisecond)
	_, err = c.TryAdmit(context.Background(), "k", 1, 0)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr, "request 3: expected RateLimited")
	assert.Equal(t, ratelimiter.KindRateLimited, rlErr.Kind)
	assert.Equal(t, ratelimiter.DimensionRequest, rlErr.Dimension)
	assert.InDelta(t, 59800, rlErr.RetryAfterMs, 1000, "request 3: expected retry_after_ms near 59800")

	now = base.Add(60100 * time.Millisecond)
	_, err = c.TryAdmit(context.Background(), "k", 1, 0)
	require.NoError(t, err, "request 4 (after window): expected allow")
}

// Scenario 2: itpm=100, one input-token sized request, then a
// sequence of them one second later, all inside one window.
func TestScenario_InputTokenLimit(t *testing.T) {
	store := fakestore.New()
	now := time.Unix(1_700_000_100, 0)
	store.Now = func() time.Time { return now }

	c := newClient(store, staticLimits{"k": {RPM: 1 << 30, ITPM: 100, OTPM: 1 << 30}})

	_, err := c.TryAdmit(context.Background(), "k", 60, 0)
	require.NoError(t, err, "60 tokens: expected allow")
	now = now.Add(time.Second)

	_, err = c.TryAdmit(context.Background(), "k", 50, 0)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr, "60+50 tokens: expected deny(in)")
	assert.Equal(t, ratelimiter.DimensionInput, rlErr.Dimension)

	_, err = c.TryAdmit(context.Background(), "k", 40, 0)
	require.NoError(t, err, "60+40 tokens: expected allow")

	_, err = c.TryAdmit(context.Background(), "k", 1, 0)
	require.ErrorAs(t, err, &rlErr, "60+40+1 tokens: expected deny(in)")
	assert.Equal(t, ratelimiter.DimensionInput, rlErr.Dimension)
}

// Scenario 3: all three limits tight enough that req and
// in both pass but out trips — the fixed tie-break order must report
// exactly "out", not an earlier-checked dimension.
func TestScenario_FixedDimensionOrder(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 10, ITPM: 10, OTPM: 10}})

	_, err := c.TryAdmit(context.Background(), "k", 5, 11)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, ratelimiter.DimensionOutput, rlErr.Dimension)
}

// Scenario 4: reconciliation frees up headroom a second
// admission needs.
func TestScenario_ReconciliationFreesHeadroom(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 1 << 30, ITPM: 1 << 30, OTPM: 100}})
	ctx := context.Background()

	submitSecond, err := c.TryAdmit(ctx, "k", 0, 50)
	require.NoError(t, err, "first admit: expected allow")

	require.NoError(t, c.ReconcileOutput(ctx, "k", submitSecond, 10-50))

	_, err = c.TryAdmit(ctx, "k", 0, 60)
	require.NoError(t, err, "second admit after reconcile: expected allow (10+60<=100)")
}

// Without the reconciliation call, the same second admission would
// have been denied: 50 + 60 > 100.
func TestScenario_WithoutReconciliationSecondAdmitDenied(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 1 << 30, ITPM: 1 << 30, OTPM: 100}})
	ctx := context.Background()

	_, err := c.TryAdmit(ctx, "k", 0, 50)
	require.NoError(t, err, "first admit: expected allow")

	_, err = c.TryAdmit(ctx, "k", 0, 60)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr, "expected deny(out) without reconciliation")
	assert.Equal(t, ratelimiter.DimensionOutput, rlErr.Dimension)
}

// Scenario 5: two nodes racing for credential k's single
// rpm=1 slot against the same shared store — exactly one must win.
func TestScenario_ConcurrentNodesRaceSingleSlot(t *testing.T) {
	for trial := 0; trial < 200; trial++ {
		store := fakestore.New()
		now := time.Unix(1_700_000_000+int64(trial), 0)
		store.Now = func() time.Time { return now }

		clientA := newClient(store, staticLimits{"k": {RPM: 1, ITPM: 1 << 30, OTPM: 1 << 30}})
		clientB := newClient(store, staticLimits{"k": {RPM: 1, ITPM: 1 << 30, OTPM: 1 << 30}})

		var wg sync.WaitGroup
		results := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); _, results[0] = clientA.TryAdmit(context.Background(), "k", 0, 0) }()
		go func() { defer wg.Done(); _, results[1] = clientB.TryAdmit(context.Background(), "k", 0, 0) }()
		wg.Wait()

		allowed := 0
		for _, err := range results {
			if err == nil {
				allowed++
			}
		}
		assert.Equal(t, 1, allowed, "trial %d: expected exactly one allow (errs=%v)", trial, results)
	}
}

// Scenario 6: store unreachable mid-session maps to
// StoreUnavailable, never a silent allow.
func TestScenario_StoreUnavailable(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 10, ITPM: 10, OTPM: 10}})

	_, err := c.TryAdmit(context.Background(), "k", 1, 1)
	require.NoError(t, err, "expected allow while store healthy")

	store.Unavailable = true
	_, err = c.TryAdmit(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)

	err = c.ReconcileOutput(context.Background(), "k", 0, -1)
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)

	store.Unavailable = false
	_, err = c.TryAdmit(context.Background(), "k", 1, 1)
	require.NoError(t, err, "expected allow once store recovers")
}

func TestUnknownCredential(t *testing.T) {
	c := newClient(fakestore.New(), staticLimits{})
	_, err := c.TryAdmit(context.Background(), "ghost", 1, 1)
	assert.ErrorIs(t, err, ratelimiter.ErrUnknownCredential)
}

func TestZeroLimitDeniesEveryRequestOnThatDimension(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 0, ITPM: 1 << 30, OTPM: 1 << 30}})
	_, err := c.TryAdmit(context.Background(), "k", 0, 0)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, ratelimiter.DimensionRequest, rlErr.Dimension)
}

func TestZeroInOutStillConsumesOneRequestSlot(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 1, ITPM: 1 << 30, OTPM: 1 << 30}})
	ctx := context.Background()

	_, err := c.TryAdmit(ctx, "k", 0, 0)
	require.NoError(t, err, "first zero-cost request: expected allow")

	_, err = c.TryAdmit(ctx, "k", 0, 0)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr, "second zero-cost request: expected deny(req)")
	assert.Equal(t, ratelimiter.DimensionRequest, rlErr.Dimension)
}

func TestBoundaryExactLimitAdmitsOneOverDenies(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 1 << 30, ITPM: 10, OTPM: 1 << 30}})
	ctx := context.Background()

	_, err := c.TryAdmit(ctx, "k", 10, 0)
	require.NoError(t, err, "exact-limit request: expected allow")

	_, err = c.TryAdmit(ctx, "k", 1, 0)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr, "one-over-limit request: expected deny(in)")
	assert.Equal(t, ratelimiter.DimensionInput, rlErr.Dimension)
}

func TestBypassModeShortCircuitsToAllowButPreservesUnknownCredential(t *testing.T) {
	store := fakestore.New()
	store.Unavailable = true
	c := newClient(store, staticLimits{"k": {RPM: 0, ITPM: 0, OTPM: 0}})
	c.Bypass = true

	_, err := c.TryAdmit(context.Background(), "k", 1000, 1000)
	require.NoError(t, err, "bypass mode: expected allow despite zero limits and unavailable store")

	_, err = c.TryAdmit(context.Background(), "ghost", 1, 1)
	assert.ErrorIs(t, err, ratelimiter.ErrUnknownCredential, "bypass mode: expected UnknownCredential to still be reported")
}

func TestReconcileRoundTripLeavesBucketUnchanged(t *testing.T) {
	store := fakestore.New()
	c := newClient(store, staticLimits{"k": {RPM: 1 << 30, ITPM: 1 << 30, OTPM: 1000}})
	ctx := context.Background()

	submitSecond, err := c.TryAdmit(ctx, "k", 0, 50)
	require.NoError(t, err)
	require.NoError(t, c.ReconcileOutput(ctx, "k", submitSecond, 25))
	require.NoError(t, c.ReconcileOutput(ctx, "k", submitSecond, -25))

	// A third admission at the same instant should see the aggregate
	// back at 50, not 75 or 25.
	store.Sweep()
	_, err = c.TryAdmit(ctx, "k", 0, 950)
	require.NoError(t, err, "expected allow: 50+950<=1000")
	_, err = c.TryAdmit(ctx, "k", 0, 1)
	require.Error(t, err, "expected deny: 50+950+1>1000")
}

func TestInvariantAggregateEqualsSumOfLiveBuckets(t *testing.T) {
	store := fakestore.New()
	base := time.Unix(1_700_001_000, 0)
	now := base
	store.Now = func() time.Time { return now }
	c := newClient(store, staticLimits{"k": {RPM: 1 << 30, ITPM: 15, OTPM: 1 << 30}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.TryAdmit(ctx, "k", int64(i+1), 0)
		require.NoError(t, err, "admit %d", i)
		now = now.Add(time.Second)
	}

	// 61 seconds after the first admission the buckets of the first two
	// seconds (1 and 2 tokens) have pruned away; the input aggregate is
	// the 3+4+5=12 of the three live buckets, so 3 more tokens fit the
	// limit of 15 exactly and one more token does not.
	now = base.Add(61 * time.Second)
	_, err := c.TryAdmit(ctx, "k", 3, 0)
	require.NoError(t, err, "post-prune admit: expected allow (12+3<=15)")

	_, err = c.TryAdmit(ctx, "k", 1, 0)
	var rlErr *ratelimiter.Error
	require.ErrorAs(t, err, &rlErr, "post-prune admit: expected deny(in) (15+1>15)")
	assert.Equal(t, ratelimiter.DimensionInput, rlErr.Dimension)
}
