package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/common"
	"github.com/toidukodu/tehiskokk/internal/config"
	"github.com/toidukodu/tehiskokk/internal/httpapi/handlers"
	"github.com/toidukodu/tehiskokk/internal/httpapi/middleware"
)

// NewRouter builds the API. limiter may be nil.
func NewRouter(cfg config.Config, h *handlers.Handler, limiter middleware.Limiter) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.Use(middleware.Session())

	// chat relay
	api.POST("/tehiskokk", middleware.RateLimit(limiter, cfg.RateLimitQPS), h.Chat)

	// identity
	api.GET("/session", h.CurrentSession)
	api.DELETE("/session", h.ClearSession)

	// conversation store
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:session_id/messages", h.ListMessages)
	api.POST("/sessions/:session_id/messages", h.SaveMessage)
	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}
