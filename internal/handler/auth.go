package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pinspire/platform/internal/auth"
	"github.com/pinspire/platform/internal/model"
	"github.com/pinspire/platform/internal/queue"
	"github.com/pinspire/platform/internal/repository"
)

// UserStore is the identity persistence the auth endpoints need.
type UserStore interface {
	Create(ctx context.Context, username, email, passwordHash string) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id int64) (model.User, error)
	TokenVersion(ctx context.Context, id int64) (int64, error)
	BumpTokenVersion(ctx context.Context, id int64) (int64, error)
}

// FactPublisher hands a committed identity to the provisioning channel.
type FactPublisher interface {
	Publish(ctx context.Context, ev queue.UserCreated) error
}

// AuthHandler bundles dependencies for the identity endpoints.
type AuthHandler struct {
	Users     UserStore
	Authority *auth.Authority
	Hasher    *auth.Hasher
	Publisher FactPublisher
}

func NewAuthHandler(users UserStore, authority *auth.Authority, hasher *auth.Hasher, pub FactPublisher) *AuthHandler {
	return &AuthHandler{Users: users, Authority: authority, Hasher: hasher, Publisher: pub}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type identityResp struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
type tokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Register creates the identity, then publishes the provisioning fact.
// The two steps are not one transaction: a publish failure is reported as
// 502 while the identity stays committed, and a crash between the commit and
// the publish loses the fact. That gap is inherited from the design; there
// is no outbox reconciliation here.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	hash, err := h.Hasher.Hash(ctx, req.Password)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash failed"})
	}

	u, err := h.Users.Create(ctx, req.Username, req.Email, hash)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameTaken):
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already taken"})
		case errors.Is(err, repository.ErrEmailTaken):
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already taken"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	if err := h.Publisher.Publish(ctx, queue.UserCreated{ID: u.ID, Username: u.Username, Name: req.Name}); err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "user created but provisioning publish failed"})
	}

	return c.JSON(http.StatusCreated, identityResp{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role})
}

// Login verifies credentials and returns a fresh token pair. Unknown
// username and wrong password produce the same response.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !h.Hasher.Verify(ctx, req.Password, u.PasswordHash) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	return h.issuePair(c, u)
}

// Refresh exchanges a valid refresh token for a new access/refresh pair.
// The embedded version must equal the identity's current stored version;
// logout-everywhere bumps that version and strands every issued token.
// The new pair keeps the same version, so rotation does not log other
// sessions out.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshTokenFrom(c)
	if raw == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	claims, err := h.Authority.ValidateRefresh(ctx, raw, func(ctx context.Context, userID int64) (int64, error) {
		v, err := h.Users.TokenVersion(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, auth.ErrInvalidToken
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	u, err := h.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	return h.issuePair(c, u)
}

// LogoutAll bumps the identity's refresh token version, invalidating every
// outstanding refresh token at once. Requires a valid access token.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	uid, ok := c.Get("user_id").(int64)
	if !ok || uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := h.Users.BumpTokenVersion(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message":               "logged out from all devices",
		"user_id":               uid,
		"refresh_token_version": v,
	})
}

// Me echoes the authenticated identity from the access token claims.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":  c.Get("user_id"),
		"username": c.Get("username"),
	})
}

func (h *AuthHandler) issuePair(c echo.Context, u model.User) error {
	access, err := h.Authority.IssueAccess(u.ID, u.Username)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	refresh, err := h.Authority.IssueRefresh(u.ID, u.Username, u.RefreshTokenVersion)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	return c.JSON(http.StatusOK, tokenResp{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"})
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back
// to the http-only cookie the edge sets.
func (h *AuthHandler) refreshTokenFrom(c echo.Context) string {
	var req refreshReq
	_ = c.Bind(&req)
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		return raw
	}
	if ck, err := c.Cookie("refresh_token"); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}
