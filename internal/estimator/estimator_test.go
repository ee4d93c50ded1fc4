package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate_MonotoneInInputLength(t *testing.T) {
	short := ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	long := ChatRequest{Messages: []Message{{Role: "user", Content: "hi, this is a much longer prompt than before"}}}

	shortTokens, _ := Estimate(short)
	longTokens, _ := Estimate(long)

	assert.GreaterOrEqual(t, longTokens, shortTokens, "expected longer prompt to yield at least as many tokens")
}

func TestEstimate_EmptyMessagesZeroInput(t *testing.T) {
	in, _ := Estimate(ChatRequest{})
	assert.Equal(t, 0, in, "expected 0 input tokens for no messages")
}

func TestEstimate_SumsAcrossMessages(t *testing.T) {
	one, _ := Estimate(ChatRequest{Messages: []Message{{Role: "user", Content: "hello world"}}})
	two, _ := Estimate(ChatRequest{Messages: []Message{
		{Role: "user", Content: "hello world"},
		{Role: "assistant", Content: "hello world"},
	}})
	assert.Greater(t, two, one, "expected two identical messages to roughly double the token count")
}

func TestEstimate_MaxTokensClampedToCeiling(t *testing.T) {
	_, out := Estimate(ChatRequest{MaxTokens: OutputCeiling * 10})
	assert.Equal(t, OutputCeiling, out, "expected max_tokens to clamp to ceiling")
}

func TestEstimate_MaxTokensDefaultsToCeilingWhenAbsent(t *testing.T) {
	_, out := Estimate(ChatRequest{MaxTokens: 0})
	assert.Equal(t, OutputCeiling, out, "expected default ceiling when max_tokens absent")
}

func TestEstimate_MaxTokensClampedToAtLeastOne(t *testing.T) {
	_, out := Estimate(ChatRequest{MaxTokens: -5})
	assert.Equal(t, 1, out, "expected negative max_tokens to clamp up to 1")
}

func TestEstimate_MaxTokensWithinRangePreserved(t *testing.T) {
	_, out := Estimate(ChatRequest{MaxTokens: 128})
	assert.Equal(t, 128, out, "expected in-range max_tokens to pass through unchanged")
}
