package ratelimiter

// Limits is a credential's three caps, resolved from the Credential
// Registry: requests per minute, input tokens per minute, and output
// tokens per minute, as declared in the credentials document. Window
// length is a deployment-wide setting, not per-credential.
type Limits struct {
	RPM  int64
	ITPM int64
	OTPM int64
}
