// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/internal/store"
	"github.com/rendis/flowengine/pkg/schema"
)

// MaxBodyBytes caps the size of an /execute request body.
const MaxBodyBytes = 6 << 20

// failureMessage is the only detail an /execute failure exposes.
const failureMessage = "Engine execution failed."

// Executor runs engine requests. Satisfied by worker.Worker.
type Executor interface {
	Execute(ctx context.Context, req schema.EngineRequest) (any, error)
}

// Deps holds the collaborators of a Server.
type Deps struct {
	Executor Executor
	Store    store.Store  // nil disables the /runs endpoints
	Logger   *slog.Logger // nil = slog.Default()
}

// Server serves the engine API.
type Server struct {
	exec   Executor
	store  store.Store
	logger *slog.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{exec: deps.Executor, store: deps.Store, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(_ *gin.Context, _ *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.GET("/health", s.handleHealth)
	router.POST("/execute", s.handleExecute)

	if s.store != nil {
		runs := router.Group("/runs")
		runs.GET("", s.listRuns)
		runs.GET("/:runID", s.getRun)
		runs.GET("/:runID/events", s.getRunEvents)
	}
	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleExecute(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "Request body too large.")
			return
		}
		writeError(c, http.StatusBadRequest, "Could not read request body.")
		return
	}

	if !gjson.ValidBytes(body) {
		writeError(c, http.StatusBadRequest, "Request body is not valid JSON.")
		return
	}
	op := gjson.GetBytes(body, "operationType")
	if !op.Exists() || op.String() == "" {
		writeError(c, http.StatusBadRequest, "operationType is required.")
		return
	}

	var req schema.EngineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, http.StatusBadRequest, "Malformed engine request.")
		return
	}

	ctx := c.Request.Context()
	if runID := gjson.GetBytes(body, "engineInput.runId").String(); runID != "" {
		ctx = logging.WithRunID(ctx, runID)
	}

	out, err := s.exec.Execute(ctx, req)
	if err != nil {
		logging.LogWith(ctx, s.logger).Error("engine execution failed",
			"operation_type", op.String(), "error", err)
		writeError(c, http.StatusInternalServerError, failureMessage)
		return
	}
	c.JSON(http.StatusOK, out)
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"status": "ERROR", "message": message})
}
