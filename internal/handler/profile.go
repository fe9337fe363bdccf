package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pinspire/platform/internal/model"
	"github.com/pinspire/platform/internal/repository"
)

// ProfileStore is the directory read model the profile endpoints need.
type ProfileStore interface {
	GetByUsername(ctx context.Context, username string) (model.DirectoryUser, error)
}

// ProfileHandler serves directory profiles materialized by the consumer.
type ProfileHandler struct {
	Profiles ProfileStore
}

func NewProfileHandler(profiles ProfileStore) *ProfileHandler {
	return &ProfileHandler{Profiles: profiles}
}

type profileResp struct {
	Username    string `json:"username"`
	Name        string `json:"name"`
	Posts       int64  `json:"posts"`
	Followers   int64  `json:"followers"`
	Followed    int64  `json:"followed"`
	Verified    bool   `json:"verified"`
	Description string `json:"description,omitempty"`
}

// GetProfile returns a user's public profile by username.
func (h *ProfileHandler) GetProfile(c echo.Context) error {
	username := c.Param("username")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Profiles.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	return c.JSON(http.StatusOK, profileResp{
		Username:    u.Username,
		Name:        u.Name,
		Posts:       u.Posts,
		Followers:   u.Followers,
		Followed:    u.Followed,
		Verified:    u.Verified,
		Description: u.Description,
	})
}
