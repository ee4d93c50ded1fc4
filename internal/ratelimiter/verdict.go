package ratelimiter

// Dimension is one of the three quantities the admission script checks,
// in the fixed tie-break order req < in < out.
type Dimension string

const (
	DimensionRequest Dimension = "req"
	DimensionInput   Dimension = "in"
	DimensionOutput  Dimension = "out"
)

// Outcome is the admission script's binary verdict.
type Outcome int

const (
	Allow Outcome = iota
	Deny
)

// Verdict is what the admission script returns: on Allow, SubmitSecond
// identifies the bucket to reconcile later; on Deny, Dimension names the
// dimension that tripped and RetryAfterMs is a safe lower bound on how
// long until at least one bucket in that dimension expires.
type Verdict struct {
	Outcome      Outcome
	SubmitSecond int64
	Dimension    Dimension
	RetryAfterMs int64
}
