// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/jfellner/zeiterfassung/internal/config"
	"github.com/jfellner/zeiterfassung/internal/handler"
	"github.com/jfellner/zeiterfassung/internal/middleware"
	"github.com/jfellner/zeiterfassung/internal/model"
)

// RegisterRoutes registers the routes that require no authentication.
// Currently that is only the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the auth endpoints. Login, refresh and logout live
// under /v1/auth without a token; /v1/me requires one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterEntries registers the time-entry workflow endpoints. Every route
// is JWT protected and restricted to the known roles; finer-grained
// decisions (ownership, delegation, the late-entry admin gate) are the
// workflow's business, not the router's. List responses are cached in Redis
// per owner and invalidated by the change-feed consumer; rdb may be nil to
// run without cache and rate limiting.
func RegisterEntries(e *echo.Echo, h *handler.EntryHandler, jwtSecret string, cfg config.Config, rdb *redis.Client) {
	g := e.Group("/v1/entries")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleAdmin, model.RoleOffice, model.RoleInstaller, model.RoleAzubi))
	g.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	// Reads, cached per owner.
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	g.GET("", h.List, cache)
	g.GET("/:id", h.Get, cache)
	g.GET("/:id/history", h.History, cache)

	// Workflow mutations.
	g.POST("", h.Create)
	g.PATCH("/:id", h.Update)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/reject", h.Reject)
	g.DELETE("/:id", h.Delete)
	g.POST("/submit", h.Submit)
}
