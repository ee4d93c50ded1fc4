// Package httpapi is the HTTP collaborator: it owns the gateway's wire
// contract and nothing else. It decodes and validates requests, drives
// the estimator and the limiter client, generates the mock completion
// on ALLOW, and maps every outcome (including every ratelimiter.Error
// kind) to a status code and response body.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratelimit-gateway/internal/ratelimiter"
)

// IDGenerator produces the opaque completion ids the 200 envelope
// carries. Swappable for tests; production uses uuid.NewString.
type IDGenerator func() string

// Server holds the collaborators the chat-completions handler needs.
// Credential limits are not looked up here: Client.TryAdmit resolves
// them through its own LimitsLookup.
type Server struct {
	NodeID string
	Client *ratelimiter.Client
	NewID  IDGenerator
}

// New builds a Server ready to have its routes registered.
func New(nodeID string, client *ratelimiter.Client) *Server {
	return &Server{
		NodeID: nodeID,
		Client: client,
		NewID:  uuid.NewString,
	}
}

// Router builds a gin.Engine with every route this server exposes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/v1/chat/completions", s.handleChatCompletions)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok", NodeID: s.NodeID})
}
