// Package completion is a deterministic stand-in for a real model call.
// Real completion generation is out of scope; this produces a canned
// reply sized to the requester's token budget so the rest of the
// gateway (admission, reconciliation, the response envelope) has
// something real to operate on.
package completion

import (
	"fmt"
	"strings"

	"ratelimit-gateway/internal/estimator"
)

// Choice mirrors the single-choice slice of an OpenAI-shaped response.
type Choice struct {
	Index   int               `json:"index"`
	Message estimator.Message `json:"message"`
}

// Usage reports the token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the subset of the OpenAI response shape this stub
// produces; internal/httpapi wraps it with id/object/created/model.
type ChatCompletion struct {
	Choices []Choice
	Usage   Usage
}

const word = "token "

// Generate produces a deterministic reply sized toward maxOutputTokens
// words and reports the actual token count the caller should reconcile
// against its reservation. actualTokens is the real estimator count for
// the generated text, including its per-message framing overhead, so it
// commonly runs above maxOutputTokens rather than staying under it — the
// caller's reconciliation is what corrects the admitted reservation for
// that overshoot (or undershoot).
func Generate(inputTokens, maxOutputTokens int) ChatCompletion {
	if maxOutputTokens < 1 {
		maxOutputTokens = 1
	}

	reply := strings.TrimSpace(strings.Repeat(word, maxOutputTokens))
	content := fmt.Sprintf("mock completion: %s", reply)
	actualTokens := estimateReplyTokens(content)

	return ChatCompletion{
		Choices: []Choice{{
			Index: 0,
			Message: estimator.Message{
				Role:    "assistant",
				Content: content,
			},
		}},
		Usage: Usage{
			PromptTokens:     inputTokens,
			CompletionTokens: actualTokens,
			TotalTokens:      inputTokens + actualTokens,
		},
	}
}

// estimateReplyTokens mirrors estimator's byte-length approximation so
// the reconciled delta is consistent with how the estimate was made.
func estimateReplyTokens(s string) int {
	req := estimator.ChatRequest{Messages: []estimator.Message{{Role: "assistant", Content: s}}}
	in, _ := estimator.Estimate(req)
	return in
}
