// Package api exposes expsync over HTTP with gin.
//
// Everything except /health sits behind AuthMiddleware, and every handler
// acts only on the authenticated user's data.
package api

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/dashboard"
	"github.com/ledgersync/expsync/internal/expenses"
	expsync "github.com/ledgersync/expsync/internal/sync"
)

// ServiceName is reported by /health.
const ServiceName = "expsync"

// Pinger checks that storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration.
type Config struct {
	// Mode is the gin mode: debug, release or test.
	Mode string

	// AllowedOrigins for CORS. "*" allows any origin; empty disables CORS.
	AllowedOrigins []string

	// LogWriter receives gin's request log (default: stderr).
	LogWriter io.Writer
}

// Deps are the services the handlers call. Hub may be nil to disable /ws.
type Deps struct {
	Sync     *expsync.Service
	Expenses *expenses.Service
	Cache    cache.Cache
	Hub      *dashboard.Hub
	Store    Pinger
	Auth     Authenticator
	Logger   *log.Logger
}

type handler struct {
	sync     *expsync.Service
	expenses *expenses.Service
	cache    cache.Cache
	hub      *dashboard.Hub
	store    Pinger
	logger   *log.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.LogWriter == nil {
		cfg.LogWriter = os.Stderr
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop()
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}

	h := &handler{
		sync:     deps.Sync,
		expenses: deps.Expenses,
		cache:    deps.Cache,
		hub:      deps.Hub,
		store:    deps.Store,
		logger:   deps.Logger,
	}

	r := gin.New()
	r.Use(gin.LoggerWithWriter(cfg.LogWriter), gin.RecoveryWithWriter(cfg.LogWriter))
	if c, ok := corsConfig(cfg.AllowedOrigins); ok {
		r.Use(cors.New(c))
	}

	r.GET("/health", h.health)

	protected := r.Group("")
	protected.Use(AuthMiddleware(deps.Auth))
	{
		protected.POST("/sync/expenses", h.syncExpenses)
		protected.GET("/sync/expenses", h.updatedSince)
		protected.GET("/sync/last-sync", h.lastSync)
		protected.GET("/sync/stats", h.syncStats)

		protected.POST("/expenses", h.createExpense)
		protected.GET("/expenses", h.listExpenses)
		protected.GET("/expenses/summary", h.expenseSummary)
		protected.GET("/expenses/:id", h.getExpense)
		protected.PATCH("/expenses/:id", h.updateExpense)
		protected.DELETE("/expenses/:id", h.deleteExpense)

		if h.hub != nil {
			protected.GET("/ws", h.websocket)
		}
	}

	return r
}

// NewHTTPServer wraps handler with the timeouts expsync serves with.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func corsConfig(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}

	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c, true
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Printf("Health check failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "ERROR",
				"service": ServiceName,
				"error":   "storage unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "OK", "service": ServiceName})
}

func (h *handler) websocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request, UserID(c))
}

// badRequest writes a 400 for input the handler rejected before calling a
// service.
func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

// writeError maps service errors onto status codes.
func (h *handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Printf("ERROR: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch expsync.Classify(err) {
	case expsync.CodeNotFound:
		return http.StatusNotFound
	case expsync.CodeForbidden:
		return http.StatusForbidden
	case expsync.CodeInvalidOperation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
