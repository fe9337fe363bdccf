package handler

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/pinspire/platform/internal/auth"
	"github.com/pinspire/platform/internal/model"
	"github.com/pinspire/platform/internal/queue"
	"github.com/pinspire/platform/internal/repository"
)

// fakeUserStore is an in-memory UserStore with the same uniqueness and
// atomicity guarantees the SQL store provides.
type fakeUserStore struct {
	mu     sync.Mutex
	seq    int64
	byID   map[int64]*model.User
	byName map[string]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[int64]*model.User{}, byName: map[string]*model.User{}}
}

func (s *fakeUserStore) Create(ctx context.Context, username, email, passwordHash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return model.User{}, repository.ErrUsernameTaken
	}
	for _, u := range s.byID {
		if u.Email == email {
			return model.User{}, repository.ErrEmailTaken
		}
	}
	s.seq++
	u := &model.User{ID: s.seq, Username: username, Email: email, PasswordHash: passwordHash, Role: "user"}
	s.byID[u.ID] = u
	s.byName[username] = u
	return *u, nil
}

func (s *fakeUserStore) GetByUsername(ctx context.Context, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byName[username]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return *u, nil
}

func (s *fakeUserStore) GetByID(ctx context.Context, id int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return *u, nil
}

func (s *fakeUserStore) TokenVersion(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return u.RefreshTokenVersion, nil
}

func (s *fakeUserStore) BumpTokenVersion(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.RefreshTokenVersion++
	return u.RefreshTokenVersion, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.UserCreated
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, ev queue.UserCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

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

func testHasher() *auth.Hasher {
	return auth.NewHasher(auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 2, SaltLen: 8, KeyLen: 16})
}

func newTestHandler(t *testing.T) (*AuthHandler, *fakeUserStore, *fakePublisher) {
	t.Helper()
	store := newFakeUserStore()
	pub := &fakePublisher{}
	return NewAuthHandler(store, testAuthority(t), testHasher(), pub), store, pub
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func register(t *testing.T, h *AuthHandler, e *echo.Echo, username, password string) {
	t.Helper()
	c, rec := postJSON(e, "/v1/auth/register",
		`{"username":"`+username+`","name":"Test User","email":"`+username+`@example.com","password":"`+password+`"}`)
	require.NoError(t, h.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func login(t *testing.T, h *AuthHandler, e *echo.Echo, username, password string) (access, refresh string) {
	t.Helper()
	c, rec := postJSON(e, "/v1/auth/login", `{"username":"`+username+`","password":"`+password+`"}`)
	require.NoError(t, h.Login(c))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "bearer", body["token_type"])
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestRegister_CreatesAndPublishes(t *testing.T) {
	t.Parallel()
	h, store, pub := newTestHandler(t)
	e := echo.New()

	c, rec := postJSON(e, "/v1/auth/register",
		`{"username":"alice","name":"Alice Smith","email":"alice@example.com","password":"s3cret"}`)
	require.NoError(t, h.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "alice", body["username"])
	require.Equal(t, "user", body["role"])
	require.NotContains(t, rec.Body.String(), "s3cret")

	u, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", u.PasswordHash)

	require.Len(t, pub.events, 1)
	require.Equal(t, queue.UserCreated{ID: u.ID, Username: "alice", Name: "Alice Smith"}, pub.events[0])
}

func TestRegister_Conflicts(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")

	c, rec := postJSON(e, "/v1/auth/register",
		`{"username":"alice","name":"Other","email":"other@example.com","password":"pw"}`)
	require.NoError(t, h.Register(c))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "username already taken", decodeBody(t, rec)["error"])

	c, rec = postJSON(e, "/v1/auth/register",
		`{"username":"bob","name":"Other","email":"alice@example.com","password":"pw"}`)
	require.NoError(t, h.Register(c))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "email already taken", decodeBody(t, rec)["error"])
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	t.Parallel()
	h, store, _ := newTestHandler(t)
	e := echo.New()

	codes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		email := []string{"a@example.com", "b@example.com"}[i]
		go func(email string) {
			c, rec := postJSON(e, "/v1/auth/register",
				`{"username":"race","name":"Race","email":"`+email+`","password":"pw"}`)
			_ = h.Register(c)
			codes <- rec.Code
		}(email)
	}

	got := []int{<-codes, <-codes}
	require.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, got)

	_, err := store.GetByUsername(context.Background(), "race")
	require.NoError(t, err)
}

func TestRegister_PublishFailureSurfaced(t *testing.T) {
	t.Parallel()
	h, store, pub := newTestHandler(t)
	pub.err = errors.New("broker unreachable")
	e := echo.New()

	c, rec := postJSON(e, "/v1/auth/register",
		`{"username":"alice","name":"Alice","email":"alice@example.com","password":"pw"}`)
	require.NoError(t, h.Register(c))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	// The identity stays committed; only the provisioning fact is lost.
	_, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
}

func TestLogin_ReturnsValidPair(t *testing.T) {
	t.Parallel()
	h, store, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")

	access, refresh := login(t, h, e, "alice", "s3cret")

	u, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)

	claims, err := h.Authority.ValidateAccess(access)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, "alice", claims.Username)

	rc, err := h.Authority.ValidateRefresh(context.Background(), refresh,
		func(ctx context.Context, id int64) (int64, error) { return store.TokenVersion(ctx, id) })
	require.NoError(t, err)
	require.Equal(t, u.ID, rc.UserID)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")

	c1, rec1 := postJSON(e, "/v1/auth/login", `{"username":"alice","password":"wrong"}`)
	require.NoError(t, h.Login(c1))
	c2, rec2 := postJSON(e, "/v1/auth/login", `{"username":"nobody","password":"whatever"}`)
	require.NoError(t, h.Login(c2))

	require.Equal(t, http.StatusUnauthorized, rec1.Code)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
	require.Equal(t, rec1.Body.String(), rec2.Body.String())
}

func TestRefresh_RotatesPair(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")
	_, refresh := login(t, h, e, "alice", "s3cret")

	c, rec := postJSON(e, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	require.NoError(t, h.Refresh(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	_, err := h.Authority.ValidateAccess(body["access_token"].(string))
	require.NoError(t, err)
	require.NotEmpty(t, body["refresh_token"])
}

func TestRefresh_CookieFallback(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")
	_, refresh := login(t, h, e, "alice", "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	rec := httptest.NewRecorder()
	require.NoError(t, h.Refresh(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_RejectedAfterLogoutAll(t *testing.T) {
	t.Parallel()
	h, store, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")
	_, refresh := login(t, h, e, "alice", "s3cret")

	u, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	_, err = store.BumpTokenVersion(context.Background(), u.ID)
	require.NoError(t, err)

	c, rec := postJSON(e, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	require.NoError(t, h.Refresh(c))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid token", decodeBody(t, rec)["error"])
}

func TestRefresh_GarbageToken(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	e := echo.New()

	c, rec := postJSON(e, "/v1/auth/refresh", `{"refresh_token":"not.a.token"}`)
	require.NoError(t, h.Refresh(c))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAll_BumpsVersion(t *testing.T) {
	t.Parallel()
	h, store, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")
	u, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)

	c, rec := postJSON(e, "/v1/auth/logout_all", "")
	c.Set("user_id", u.ID)
	require.NoError(t, h.LogoutAll(c))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeBody(t, rec)["refresh_token_version"])
}

func TestLogoutAll_ConcurrentBumpsAreNotLost(t *testing.T) {
	t.Parallel()
	h, store, _ := newTestHandler(t)
	e := echo.New()
	register(t, h, e, "alice", "s3cret")
	u, err := store.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)

	done := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, rec := postJSON(e, "/v1/auth/logout_all", "")
			c.Set("user_id", u.ID)
			_ = h.LogoutAll(c)
			done <- rec.Code
		}()
	}
	require.Equal(t, http.StatusOK, <-done)
	require.Equal(t, http.StatusOK, <-done)

	v, err := store.TokenVersion(context.Background(), u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)
}
