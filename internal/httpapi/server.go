// Package httpapi exposes the orchestrator over HTTP.
//
//	GET    /health
//	GET    /personas[?category=author]
//	GET    /categories
//	POST   /interpretations
//	POST   /interpretations/regenerate
//	GET    /cache/stats
//	DELETE /cache
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/interpretation-service/internal/cache"
	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/engine"
	"github.com/book-expert/interpretation-service/internal/persona"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

const (
	logFmtRequest     = "%s %s -> %d (%v)"
	logFmtListening   = "HTTP API listening on %s"
	logFmtStopping    = "HTTP API shutting down"
	errFmtServeFailed = "http server failed: %w"
)

// Service is the orchestrator surface served over HTTP.
type Service interface {
	GenerateOne(ctx context.Context, text, personaID string, op core.OperationType, opts core.Options) (core.Interpretation, error)
	GenerateMany(ctx context.Context, text string, personaIDs []string, op core.OperationType, opts core.Options) ([]core.Outcome, error)
	Regenerate(
		ctx context.Context, text, personaID string, op core.OperationType, policy engine.RegeneratePolicy, opts core.Options,
	) (core.Interpretation, error)
	Personas() []persona.Persona
	PersonasByCategory(category persona.Category) []persona.Persona
	Categories() []persona.Category
	CacheStats() cache.Stats
	ClearCache()
}

// GenerateRequest is the body of POST /interpretations.
type GenerateRequest struct {
	Text       string             `json:"text"`
	PersonaIDs []string           `json:"persona_ids"`
	Operation  core.OperationType `json:"operation"`
	Options    core.Options       `json:"options"`
}

// RegenerateRequest is the body of POST /interpretations/regenerate.
type RegenerateRequest struct {
	Text        string             `json:"text"`
	PersonaID   string             `json:"persona_id"`
	Operation   core.OperationType `json:"operation"`
	BypassCache bool               `json:"bypass_cache"`
	Options     core.Options       `json:"options"`
}

// GenerateResponse answers POST /interpretations. A single persona request
// fills Interpretation; a batch fills Outcomes.
type GenerateResponse struct {
	Interpretation *core.Interpretation `json:"interpretation,omitempty"`
	Outcomes       []core.Outcome       `json:"outcomes,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind    core.ErrorKind `json:"kind"`
	Message string         `json:"message"`
}

// Server serves the HTTP API.
type Server struct {
	service Service
	engine  *gin.Engine
	log     *logger.Logger
}

// New builds the router.
func New(service Service, log *logger.Logger) *Server {
	router := gin.New()

	server := &Server{service: service, engine: router, log: log}

	router.Use(gin.Recovery(), server.logRequests)

	router.GET("/health", server.health)
	router.GET("/personas", server.listPersonas)
	router.GET("/categories", server.listCategories)
	router.POST("/interpretations", server.generate)
	router.POST("/interpretations/regenerate", server.regenerate)
	router.GET("/cache/stats", server.cacheStats)
	router.DELETE("/cache", server.clearCache)

	return server
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.Info(logFmtListening, addr)
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf(errFmtServeFailed, err)
	case <-ctx.Done():
	}

	s.log.Info(logFmtStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	serveErr := <-errChan
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf(errFmtServeFailed, serveErr)
	}

	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	started := time.Now()

	c.Next()

	s.log.Info(logFmtRequest, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listPersonas(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		c.JSON(http.StatusOK, s.service.Personas())

		return
	}

	if !persona.Category(category).Valid() {
		writeError(c, core.NewError(core.KindValidation, fmt.Sprintf("unknown category %q", category), nil))

		return
	}

	c.JSON(http.StatusOK, s.service.PersonasByCategory(persona.Category(category)))
}

func (s *Server) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Categories())
}

func (s *Server) generate(c *gin.Context) {
	var request GenerateRequest

	bindErr := c.ShouldBindJSON(&request)
	if bindErr != nil {
		writeError(c, core.NewError(core.KindValidation, "malformed request body", bindErr))

		return
	}

	if len(request.PersonaIDs) == 1 {
		interpretation, err := s.service.GenerateOne(
			c.Request.Context(), request.Text, request.PersonaIDs[0], request.Operation, request.Options)
		if err != nil {
			writeError(c, err)

			return
		}

		c.JSON(http.StatusOK, GenerateResponse{Interpretation: &interpretation, Outcomes: nil})

		return
	}

	outcomes, err := s.service.GenerateMany(
		c.Request.Context(), request.Text, request.PersonaIDs, request.Operation, request.Options)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, GenerateResponse{Interpretation: nil, Outcomes: outcomes})
}

func (s *Server) regenerate(c *gin.Context) {
	var request RegenerateRequest

	bindErr := c.ShouldBindJSON(&request)
	if bindErr != nil {
		writeError(c, core.NewError(core.KindValidation, "malformed request body", bindErr))

		return
	}

	policy := engine.ReuseCached
	if request.BypassCache {
		policy = engine.BypassCache
	}

	interpretation, err := s.service.Regenerate(
		c.Request.Context(), request.Text, request.PersonaID, request.Operation, policy, request.Options)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, GenerateResponse{Interpretation: &interpretation, Outcomes: nil})
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.CacheStats())
}

func (s *Server) clearCache(c *gin.Context) {
	s.service.ClearCache()
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	kind := core.KindOf(err)

	c.JSON(statusFor(kind), ErrorResponse{Kind: kind, Message: err.Error()})
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindProviderFatal:
		return http.StatusBadGateway
	case core.KindRetryExhausted, core.KindProviderRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
