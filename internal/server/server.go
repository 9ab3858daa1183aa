package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/migration"
)

// History is the read side of the tracking tables.
// *migration.DatabaseMigrator implements it once transferred to the database.
type History interface {
	ListVersions(ctx context.Context, limit int) ([]migration.VersionRecord, error)
	ListScriptRuns(ctx context.Context, limit int) ([]migration.ScriptRunRecord, error)
}

// Server exposes the tracking history read-only over HTTP.
type Server struct {
	history History
	logger  *common.Logger
	// the history shares one pinned connection
	mu sync.Mutex
}

// New creates a server over h.
func New(h History, logger *common.Logger) *Server {
	return &Server{history: h, logger: common.OrNop(logger).WithComponent("server")}
}

// Handler returns the gin engine serving /healthz, /versions and /scripts.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/versions", func(c *gin.Context) {
		limit, ok := parseLimit(c)
		if !ok {
			return
		}
		s.mu.Lock()
		rows, err := s.history.ListVersions(c.Request.Context(), limit)
		s.mu.Unlock()
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"versions": nonNil(rows)})
	})
	engine.GET("/scripts", func(c *gin.Context) {
		limit, ok := parseLimit(c)
		if !ok {
			return
		}
		s.mu.Lock()
		rows, err := s.history.ListScriptRuns(c.Request.Context(), limit)
		s.mu.Unlock()
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"scripts": nonNil(rows)})
	})
	return engine
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("history query failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = constants.DefaultServeAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: constants.DefaultReadTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving tracking history", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("server stopped")
		return nil
	}
}
