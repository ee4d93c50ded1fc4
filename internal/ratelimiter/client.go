// Package ratelimiter implements the distributed sliding-window
// limiter's Admission Script (the atomic server-side routine) and
// Limiter Client (the per-node coordinator that invokes it). Every
// node ships only arguments to the shared store and receives only a
// verdict, so fleet size never affects correctness — the single
// serialization point is Redis's own single-threaded script
// execution for a credential's key space.
package ratelimiter

import (
	"context"
	"errors"
	"net"
	"time"
)

// LimitsLookup is the Credential Registry's read side, as the Limiter
// Client needs it: an O(1) point-in-time snapshot lookup. Unknown
// credentials are reported distinctly, never coerced to default limits.
type LimitsLookup interface {
	Lookup(credential string) (Limits, bool)
}

// Metrics is the minimum counter surface the gateway exposes for
// admission outcomes. A nil Metrics is valid and every method is a
// no-op.
type Metrics interface {
	ObserveAllow()
	ObserveDeny(dim Dimension)
	ObserveUnknownCredential()
	ObserveStoreUnavailable()
	ObserveInternalError()
}

// noopMetrics is used when Client.Metrics is left nil.
type noopMetrics struct{}

func (noopMetrics) ObserveAllow()             {}
func (noopMetrics) ObserveDeny(Dimension)     {}
func (noopMetrics) ObserveUnknownCredential() {}
func (noopMetrics) ObserveStoreUnavailable()  {}
func (noopMetrics) ObserveInternalError()     {}

// Client is the stateless per-node coordinator that invokes the shared
// store's admission and reconciliation routines. It holds no
// per-credential state of its own; everything lives in Store.
type Client struct {
	Store  Store
	Limits LimitsLookup

	// Window is W, the sliding-window length shared by all credentials.
	Window time.Duration

	// Bypass short-circuits TryAdmit/ReconcileOutput to ALLOW without
	// touching Store, for controlled benchmarking only. It still honors
	// InvalidRequest/UnknownCredential classification.
	Bypass bool

	// AdmitTimeout and ReconcileTimeout bound the two network round
	// trips a request makes. The admission call is never retried on
	// timeout: the script is non-idempotent and a silent retry could
	// double-count.
	AdmitTimeout     time.Duration
	ReconcileTimeout time.Duration

	Metrics Metrics
}

const (
	DefaultAdmitTimeout     = 50 * time.Millisecond
	DefaultReconcileTimeout = 100 * time.Millisecond
)

func (c *Client) metrics() Metrics {
	if c.Metrics == nil {
		return noopMetrics{}
	}
	return c.Metrics
}

// TryAdmit resolves credential's limits, then invokes the admission
// script with the pre-flight token counts. A nil error means admitted;
// submitSecond must be passed to ReconcileOutput once the actual
// output-token count is known. A non-nil error is always a *Error
// classified as one of UnknownCredential, RateLimited, StoreUnavailable,
// or InternalError — TryAdmit never returns InvalidRequest, that's the
// HTTP collaborator's concern before TryAdmit is even called.
func (c *Client) TryAdmit(ctx context.Context, credential string, inputTokens, outputTokensEstimate int64) (submitSecond int64, err error) {
	limits, ok := c.Limits.Lookup(credential)
	if !ok {
		c.metrics().ObserveUnknownCredential()
		return 0, ErrUnknownCredential
	}

	if c.Bypass {
		c.metrics().ObserveAllow()
		return bypassSubmitSecond(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.admitTimeout())
	defer cancel()

	verdict, err := c.Store.Admit(ctx, credential, c.Window, limits, inputTokens, outputTokensEstimate)
	if err != nil {
		return 0, c.classify(err)
	}

	if verdict.Outcome == Deny {
		c.metrics().ObserveDeny(verdict.Dimension)
		return 0, rateLimitedError(verdict.Dimension, verdict.RetryAfterMs)
	}

	c.metrics().ObserveAllow()
	return verdict.SubmitSecond, nil
}

// ReconcileOutput adjusts the output bucket recorded at submitSecond by
// delta = actualOutputTokens - estimatedOutputTokens (possibly
// negative). Failures are logged by the caller and dropped: the next
// window's expiry resets any drift.
func (c *Client) ReconcileOutput(ctx context.Context, credential string, submitSecond int64, delta int64) error {
	if c.Bypass {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.reconcileTimeout())
	defer cancel()

	if err := c.Store.Reconcile(ctx, credential, submitSecond, delta, c.Window); err != nil {
		return c.classify(err)
	}
	return nil
}

func (c *Client) admitTimeout() time.Duration {
	if c.AdmitTimeout <= 0 {
		return DefaultAdmitTimeout
	}
	return c.AdmitTimeout
}

func (c *Client) reconcileTimeout() time.Duration {
	if c.ReconcileTimeout <= 0 {
		return DefaultReconcileTimeout
	}
	return c.ReconcileTimeout
}

// classify turns a transport/script error into one of the two
// remaining observable kinds: StoreUnavailable (unreachable store or
// deadline expiry — never retried, see Client.AdmitTimeout doc) or
// InternalError (script returned an unexpected shape or any other
// unclassified fault). It never silently allows.
func (c *Client) classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		c.metrics().ObserveStoreUnavailable()
		return storeUnavailableError(err)
	}
	c.metrics().ObserveInternalError()
	return internalError(err)
}

// bypassSubmitSecond gives ReconcileOutput something to no-op against
// when Bypass is set; no bucket with this value is ever written.
func bypassSubmitSecond() int64 { return -1 }
