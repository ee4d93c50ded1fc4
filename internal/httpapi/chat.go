package httpapi

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ratelimit-gateway/internal/completion"
	"ratelimit-gateway/internal/estimator"
	"ratelimit-gateway/internal/ratelimiter"
)

func (s *Server) handleChatCompletions(c *gin.Context) {
	credential, ok := bearerCredential(c.GetHeader("Authorization"))
	if !ok {
		writeError(c, http.StatusUnauthorized, "invalid_api_key")
		return
	}

	var body chatCompletionRequest
	if err := c.ShouldBindJSON(&body); err != nil || !validRequest(body) {
		writeError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	inputTokens, maxOutputTokens := estimator.Estimate(estimator.ChatRequest{
		Messages:  body.Messages,
		MaxTokens: body.MaxTokens,
	})

	ctx := c.Request.Context()
	submitSecond, err := s.Client.TryAdmit(ctx, credential, int64(inputTokens), int64(maxOutputTokens))
	if err != nil {
		s.writeAdmitError(c, err)
		return
	}

	reply := completion.Generate(inputTokens, maxOutputTokens)

	delta := int64(reply.Usage.CompletionTokens) - int64(maxOutputTokens)
	if err := s.Client.ReconcileOutput(ctx, credential, submitSecond, delta); err != nil {
		slog.Error("httpapi: reconcile failed", "credential", redactCredential(credential), "error", err)
	}

	resp := chatCompletionResponse{
		ID:      s.NewID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   body.Model,
		NodeID:  s.NodeID,
		Usage: usageResponse{
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.TotalTokens,
		},
	}
	for _, ch := range reply.Choices {
		resp.Choices = append(resp.Choices, choiceResponse{Index: ch.Index, Message: ch.Message})
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) writeAdmitError(c *gin.Context, err error) {
	var rlErr *ratelimiter.Error
	if !errors.As(err, &rlErr) {
		writeError(c, http.StatusInternalServerError, "internal_error")
		return
	}

	switch rlErr.Kind {
	case ratelimiter.KindUnknownCredential:
		writeError(c, http.StatusUnauthorized, "invalid_api_key")
	case ratelimiter.KindRateLimited:
		retrySeconds := int64(math.Ceil(float64(rlErr.RetryAfterMs) / 1000))
		c.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
		c.JSON(http.StatusTooManyRequests, errorBody{Error: errorDetail{
			Type:         "rate_limit_exceeded",
			Dimension:    string(rlErr.Dimension),
			RetryAfterMs: rlErr.RetryAfterMs,
		}})
	case ratelimiter.KindStoreUnavailable:
		writeError(c, http.StatusServiceUnavailable, "upstream_unavailable")
	default:
		writeError(c, http.StatusInternalServerError, "internal_error")
	}
}

func writeError(c *gin.Context, status int, errType string) {
	c.JSON(status, errorBody{Error: errorDetail{Type: errType}})
}

// bearerCredential extracts the credential from an "Authorization:
// Bearer <credential>" header. Missing header or wrong scheme both
// report ok=false.
func bearerCredential(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	cred := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if cred == "" {
		return "", false
	}
	return cred, true
}

// validRequest enforces the request boundary shape: a non-empty model
// name and at least one message, every message with a non-empty role.
func validRequest(body chatCompletionRequest) bool {
	if strings.TrimSpace(body.Model) == "" {
		return false
	}
	if len(body.Messages) == 0 {
		return false
	}
	for _, m := range body.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return false
		}
	}
	return true
}

// redactCredential avoids logging full credentials at error level.
func redactCredential(credential string) string {
	if len(credential) <= 8 {
		return "***"
	}
	return credential[:4] + "..." + credential[len(credential)-4:]
}
