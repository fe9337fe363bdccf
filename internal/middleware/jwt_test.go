package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/pinspire/platform/internal/auth"
)

func testAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	a, err := auth.NewAuthority(privPEM, pubPEM, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return a
}

func invoke(t *testing.T, a *auth.Authority, authHeader string) (*httptest.ResponseRecorder, echo.Context, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	next := func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	}
	require.NoError(t, RequireAccess(a)(next)(c))
	return rec, c, called
}

func TestRequireAccess_ValidToken(t *testing.T) {
	t.Parallel()
	a := testAuthority(t)
	raw, err := a.IssueAccess(42, "alice")
	require.NoError(t, err)

	rec, c, called := invoke(t, a, "Bearer "+raw)
	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(42), c.Get("user_id"))
	require.Equal(t, "alice", c.Get("username"))
}

func TestRequireAccess_MissingHeader(t *testing.T) {
	t.Parallel()
	rec, _, called := invoke(t, testAuthority(t), "")
	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAccess_GarbageToken(t *testing.T) {
	t.Parallel()
	rec, _, called := invoke(t, testAuthority(t), "Bearer not.a.token")
	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAccess_RefreshTokenRejected(t *testing.T) {
	t.Parallel()
	a := testAuthority(t)
	raw, err := a.IssueRefresh(42, "alice", 0)
	require.NoError(t, err)

	rec, _, called := invoke(t, a, "Bearer "+raw)
	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAccess_ForeignKeyRejected(t *testing.T) {
	t.Parallel()
	minting := testAuthority(t)
	verifying := testAuthority(t)
	raw, err := minting.IssueAccess(42, "alice")
	require.NoError(t, err)

	rec, _, called := invoke(t, verifying, "Bearer "+raw)
	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
