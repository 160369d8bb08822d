package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"todo-backend/internal/handler"
	"todo-backend/pkg/otel"
)

// ReadinessCheck /readyz 中的一项依赖检查
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	Tasks       *handler.TaskHandler
	Admin       *handler.AdminHandler // 为 nil 或 AdminToken 为空时不注册 /admin
	AdminToken  string
	Checks      []ReadinessCheck
	BasePath    string
	CORSOrigins []string
	Logger      *zap.Logger
}

func NewRouter(opts Options) *gin.Engine {
	r := gin.New()

	r.Use(recovery(opts.Logger))
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(opts.Logger))
	r.Use(otel.GinMiddleware())
	r.Use(MetricsMiddleware())
	if m := CORSMiddleware(opts.CORSOrigins); m != nil {
		r.Use(m)
	}

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for _, check := range opts.Checks {
			if err := check.Check(ctx); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"status": check.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.Admin != nil && opts.AdminToken != "" {
		admin := r.Group("/admin")
		admin.Use(AdminAuthMiddleware(opts.AdminToken))
		admin.POST("/outbox/replay", opts.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", opts.Admin.ReplayFailedEvents)
	}

	api := r.Group(normalizeBasePath(opts.BasePath))
	{
		api.GET("/todo/", opts.Tasks.List)
		api.POST("/todo/", opts.Tasks.Create)
		api.GET("/todo/summary/", opts.Tasks.Summary)
		api.GET("/todo/:id/", opts.Tasks.Retrieve)
		api.PUT("/todo/:id/", opts.Tasks.Update)
		api.PATCH("/todo/:id/", opts.Tasks.PartialUpdate)
		api.DELETE("/todo/:id/", opts.Tasks.Destroy)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
	})

	return r
}

// normalizeBasePath "api/" -> "/api"，空串 -> "/"
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
