// Package router defines how HTTP routes are registered for each service.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/pinspire/platform/internal/auth"
	"github.com/pinspire/platform/internal/config"
	"github.com/pinspire/platform/internal/handler"
	"github.com/pinspire/platform/internal/middleware"
)

// RegisterCommon registers routes shared by every service.
func RegisterCommon(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth wires the identity endpoints. Register and login sit behind
// the Redis rate limiter; logout-all and me require a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, authority *auth.Authority, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	limited := middleware.RateLimit(rlCfg, rdb)

	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, limited)
	g.POST("/login", a.Login, limited)
	g.POST("/refresh", a.Refresh)

	protected := e.Group("/v1/auth", middleware.RequireAccess(authority))
	protected.POST("/logout_all", a.LogoutAll)
	protected.GET("/me", a.Me)
}

// RegisterDirectory wires the userservice's public profile reads.
func RegisterDirectory(e *echo.Echo, p *handler.ProfileHandler) {
	e.GET("/v1/users/:username", p.GetProfile)
}
