// Package middleware contains reusable Echo middleware for the two services.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pinspire/platform/internal/auth"
)

// RequireAccess validates the Bearer access token with the verifier's public
// key and injects user_id and username into the request context. Only the
// authservice holds the private key; any service with the public key can run
// this middleware without being able to mint tokens. Every failure maps to
// the same 401 body.
func RequireAccess(verifier *auth.Authority) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims, err := verifier.ValidateAccess(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			c.Set("user_id", claims.UserID)
			c.Set("username", claims.Username)
			return next(c)
		}
	}
}
