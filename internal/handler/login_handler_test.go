package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/one-time-login-api/pkg/response"

	"github.com/noah-isme/one-time-login-api/internal/middleware"
	"github.com/noah-isme/one-time-login-api/internal/models"
	"github.com/noah-isme/one-time-login-api/internal/service"
)

const testCookieName = "otl_session"

type memStore struct {
	sets map[string][]models.LoginToken
}

func newMemStore() *memStore {
	return &memStore{sets: make(map[string][]models.LoginToken)}
}

func (m *memStore) Load(ctx context.Context, userID string) ([]models.LoginToken, error) {
	return append([]models.LoginToken(nil), m.sets[userID]...), nil
}

func (m *memStore) Save(ctx context.Context, userID string, tokens []models.LoginToken) error {
	m.sets[userID] = append([]models.LoginToken(nil), tokens...)
	return nil
}

type memUsers struct {
	users map[string]*models.User
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

type loginFixture struct {
	router *gin.Engine
	store  *memStore
	tokens *service.TokenService
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	users := &memUsers{users: map[string]*models.User{
		"42": {ID: "42", Login: "testuser", Email: "test@example.com", FullName: "Test User", Role: models.RoleMember, Active: true},
	}}

	tokenSvc := service.NewTokenService(store, users, nil, nil, nil, nil, service.TokenConfig{
		BaseURL:         "http://example.test",
		LoginPath:       "/login",
		DefaultRedirect: "/dashboard",
	})
	authSvc := service.NewAuthService(users, nil, nil, service.AuthConfig{
		Secret:     "test-signing-secret",
		Expiration: time.Hour,
	})

	r := gin.New()
	h := NewLoginHandler(tokenSvc, authSvc, testCookieName)
	r.GET("/login", middleware.OptionalJWT(authSvc, testCookieName), h.Handle)

	return &loginFixture{router: r, store: store, tokens: tokenSvc}
}

func (f *loginFixture) issue(t *testing.T) string {
	t.Helper()
	res, err := f.tokens.Issue(context.Background(), models.IssueRequest{UserID: "42"})
	require.NoError(t, err)
	return res.Tokens[0].Secret
}

func (f *loginFixture) get(target string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestLoginMissingParamsIs404(t *testing.T) {
	f := newLoginFixture(t)

	assert.Equal(t, http.StatusNotFound, f.get("/login", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/login?user_id=42", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/login?token=abc", nil).Code)
}

func TestLoginSuccessSetsCookieAndRedirects(t *testing.T) {
	f := newLoginFixture(t)
	secret := f.issue(t)

	w := f.get("/login?user_id=42&token="+secret, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	found := false
	for _, cookie := range cookies {
		if cookie.Name == testCookieName {
			found = true
			assert.NotEmpty(t, cookie.Value)
			assert.True(t, cookie.HttpOnly)
		}
	}
	assert.True(t, found, "session cookie must be set")
}

func TestLoginTokenIsSingleUse(t *testing.T) {
	f := newLoginFixture(t)
	secret := f.issue(t)

	assert.Equal(t, http.StatusFound, f.get("/login?user_id=42&token="+secret, nil).Code)

	w := f.get("/login?user_id=42&token="+secret, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginFailureIsGeneric(t *testing.T) {
	f := newLoginFixture(t)
	f.issue(t)

	unknownUser := f.get("/login?user_id=no-such-user&token=whatever", nil)
	wrongSecret := f.get("/login?user_id=42&token=wrong", nil)

	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, http.StatusUnauthorized, wrongSecret.Code)
	assert.Equal(t, unknownUser.Body.String(), wrongSecret.Body.String())
}

func TestLoginFailureMentionsActiveSession(t *testing.T) {
	f := newLoginFixture(t)

	authSvc := service.NewAuthService(&memUsers{users: map[string]*models.User{}}, nil, nil, service.AuthConfig{
		Secret:     "test-signing-secret",
		Expiration: time.Hour,
	})
	session, _, err := authSvc.EstablishSession(&models.User{ID: "42", FullName: "Test User", Role: models.RoleMember})
	require.NoError(t, err)

	w := f.get("/login?user_id=42&token=wrong", map[string]string{"Authorization": "Bearer " + session})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Contains(t, envelope.Error.Message, "Test User")
	assert.Contains(t, envelope.Error.Message, "dashboard")
}

func TestLoginRedirectsToTokenTarget(t *testing.T) {
	f := newLoginFixture(t)

	res, err := f.tokens.Issue(context.Background(), models.IssueRequest{UserID: "42", Redirect: "/profile"})
	require.NoError(t, err)

	w := f.get("/login?user_id=42&token="+res.Tokens[0].Secret, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/profile", w.Header().Get("Location"))
}
