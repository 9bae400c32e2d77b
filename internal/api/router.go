package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig configures the middleware stack around the handler.
type RouterConfig struct {
	CORSOrigins  []string
	RateLimitRPS float64
	MaxBodyBytes int64
	Debug        bool
}

// NewRouter builds the gin engine with h mounted at /api/v1 and again at
// the root, where clients of the unversioned API (POST /append, GET /scan,
// GET /query) expect it. The rate limiter's sweeper stops when ctx is done.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())

	// CORS
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", APIKeyHeader, RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 || containsWildcard(cfg.CORSOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	})

	router.Use(BodyLimit(cfg.MaxBodyBytes))
	router.Use(RateLimiter(ctx, cfg.RateLimitRPS, int(cfg.RateLimitRPS*2)))
	router.Use(PrometheusMiddleware())
	router.Use(AccessLog(logger))

	h.Register(router.Group("/api/v1"))
	h.Register(router.Group("/"))
	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
