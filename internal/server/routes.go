package server

import (
	"net/http"
	"time"

	"github.com/danmuck/chatwire/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter builds the admin HTTP surface.
func (s *Service) AdminRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(observability.ComponentLogger("chatd-admin"), "chatd"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "chatd",
			"version":   "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/sessions", func(c *gin.Context) {
		users := s.registry.Usernames()
		c.JSON(http.StatusOK, gin.H{
			"usernames":      users,
			"registered":     len(users),
			"active_clients": s.ActiveClients(),
		})
	})

	return r
}
