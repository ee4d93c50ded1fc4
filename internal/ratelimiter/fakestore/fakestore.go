// Package fakestore is an in-memory stand-in for the shared store,
// implementing ratelimiter.Store with the identical prune/check/admit
// and reconcile semantics the Lua scripts give Redis. It is adapted
// from a miniature in-memory Redis clone (background TTL sweep over
// mutex-guarded maps): here the maps hold buckets, bucket indexes, and
// aggregates instead of arbitrary key/value pairs, and the surface is
// narrowed to exactly the two atomic operations the limiter needs.
//
// Tests drive the real Client/Store contract against this instead of a
// Lua interpreter, so the limiter's invariants are exercised against the
// same code path ratelimiter.Client uses in production, minus the
// network hop.
package fakestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"ratelimit-gateway/internal/ratelimiter"
)

type dimState struct {
	buckets map[int64]int64 // second -> count
	index   []int64         // live seconds, kept sorted ascending
	total   int64
	expiry  time.Time // TTL refreshed on every touch
}

// credentialState holds the three dimensions' state for one credential.
type credentialState struct {
	dims [3]dimState // req, in, out, matching ratelimiter's fixed order
}

// Store is a goroutine-safe, single-process implementation of
// ratelimiter.Store. Clock is injectable so tests can drive exact
// second boundaries instead of racing the wall clock.
type Store struct {
	mu   sync.Mutex
	data map[string]*credentialState

	// Now defaults to time.Now but can be overridden for deterministic
	// tests that pin exact timestamps.
	Now func() time.Time

	// Unavailable, when set, makes every call fail as if the store
	// were unreachable.
	Unavailable bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data: make(map[string]*credentialState),
		Now:  time.Now,
	}
}

var dimNames = [3]ratelimiter.Dimension{
	ratelimiter.DimensionRequest,
	ratelimiter.DimensionInput,
	ratelimiter.DimensionOutput,
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) stateFor(credential string) *credentialState {
	cs, ok := s.data[credential]
	if !ok {
		cs = &credentialState{}
		for d := range cs.dims {
			cs.dims[d].buckets = make(map[int64]int64)
		}
		s.data[credential] = cs
	}
	return cs
}

// Admit implements ratelimiter.Store.
func (s *Store) Admit(ctx context.Context, credential string, window time.Duration, limits ratelimiter.Limits, inputTokens, outputTokensEstimate int64) (ratelimiter.Verdict, error) {
	if s.Unavailable {
		return ratelimiter.Verdict{}, context.DeadlineExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	windowSeconds := int64(window / time.Second)
	nowMs := s.now().UnixMilli()
	t := nowMs / 1000
	cutoff := t - windowSeconds

	cs := s.stateFor(credential)
	limitValues := [3]int64{limits.RPM, limits.ITPM, limits.OTPM}
	incoming := [3]int64{1, inputTokens, outputTokensEstimate}

	totals := [3]int64{}
	for d := 0; d < 3; d++ {
		prune(&cs.dims[d], cutoff)
		totals[d] = cs.dims[d].total
	}

	violation := -1
	for d := 0; d < 3; d++ {
		if totals[d]+incoming[d] > limitValues[d] {
			violation = d
			break
		}
	}

	if violation >= 0 {
		msToNextSecond := 1000 - (nowMs % 1000)
		gapMs := int64(0)
		if len(cs.dims[violation].index) > 0 {
			oldest := cs.dims[violation].index[0]
			waitSeconds := (oldest + windowSeconds) - t
			if waitSeconds > 1 {
				gapMs = (waitSeconds - 1) * 1000
			}
		}
		return ratelimiter.Verdict{
			Outcome:      ratelimiter.Deny,
			Dimension:    dimNames[violation],
			RetryAfterMs: msToNextSecond + gapMs,
		}, nil
	}

	ttl := window + ratelimiter.Slack
	for d := 0; d < 3; d++ {
		record(&cs.dims[d], t, incoming[d], s.now().Add(ttl))
	}

	return ratelimiter.Verdict{Outcome: ratelimiter.Allow, SubmitSecond: t}, nil
}

// Reconcile implements ratelimiter.Store.
func (s *Store) Reconcile(ctx context.Context, credential string, submitSecond int64, delta int64, window time.Duration) error {
	if s.Unavailable {
		return context.DeadlineExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.data[credential]
	if !ok {
		return nil
	}

	windowSeconds := int64(window / time.Second)
	nowSec := s.now().Unix()
	if submitSecond <= nowSec-windowSeconds {
		return nil
	}

	out := &cs.dims[2]
	cur, exists := out.buckets[submitSecond]
	if !exists {
		return nil
	}

	newVal := cur + delta
	if newVal < 0 {
		newVal = 0
	}
	applied := newVal - cur
	out.buckets[submitSecond] = newVal
	out.total += applied
	if out.total < 0 {
		out.total = 0
	}
	return nil
}

// prune removes every bucket whose second is <= cutoff, mirroring the
// Lua script's ZRANGEBYSCORE+HDEL+ZREMRANGEBYSCORE sequence.
func prune(d *dimState, cutoff int64) {
	if len(d.index) == 0 {
		return
	}
	cut := sort.Search(len(d.index), func(i int) bool { return d.index[i] > cutoff })
	if cut == 0 {
		return
	}
	for _, sec := range d.index[:cut] {
		d.total -= d.buckets[sec]
		delete(d.buckets, sec)
	}
	d.index = append([]int64(nil), d.index[cut:]...)
	if d.total < 0 {
		d.total = 0
	}
}

// record increments bucket t by delta, keeps the index sorted and
// deduplicated, and refreshes TTL bookkeeping.
func record(d *dimState, t int64, delta int64, expiry time.Time) {
	if _, exists := d.buckets[t]; !exists {
		i := sort.Search(len(d.index), func(i int) bool { return d.index[i] >= t })
		d.index = append(d.index, 0)
		copy(d.index[i+1:], d.index[i:])
		d.index[i] = t
	}
	d.buckets[t] += delta
	d.total += delta
	d.expiry = expiry
}

// Sweep evicts any credential whose every dimension's expiry has
// passed: after W+slack seconds of inactivity a credential's footprint
// collapses to nothing. Tests call this explicitly instead of relying
// on a background goroutine racing a fake clock.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for cred, cs := range s.data {
		live := false
		for d := range cs.dims {
			if len(cs.dims[d].buckets) > 0 && now.Before(cs.dims[d].expiry) {
				live = true
				break
			}
		}
		if !live {
			delete(s.data, cred)
		}
	}
}
