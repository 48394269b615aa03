package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appErrors "github.com/noah-isme/one-time-login-api/pkg/errors"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

type memAuthRepo struct {
	byEmail map[string]*models.User
	byID    map[string]*models.User
}

func (m *memAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func newAuthFixture(t *testing.T) (*AuthService, *models.User) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	admin := &models.User{
		ID:           "admin-1",
		Login:        "admin",
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		FullName:     "Admin User",
		Role:         models.RoleAdmin,
		Active:       true,
	}
	repo := &memAuthRepo{
		byEmail: map[string]*models.User{admin.Email: admin},
		byID:    map[string]*models.User{admin.ID: admin},
	}
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		Secret:     "test-signing-secret",
		Expiration: time.Hour,
		Issuer:     "one-time-login-api",
	})
	return svc, admin
}

func TestLoginSuccess(t *testing.T) {
	svc, admin := newAuthFixture(t)

	res, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    admin.Email,
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, admin.ID, res.User.ID)
	assert.Equal(t, int64(3600), res.ExpiresIn)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, admin := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    admin.Email,
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownEmailSameErrorAsWrongPassword(t *testing.T) {
	svc, admin := newAuthFixture(t)

	_, unknownErr := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "s3cret-pass",
	})
	_, wrongErr := svc.Login(context.Background(), models.LoginRequest{
		Email:    admin.Email,
		Password: "wrong",
	})

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, admin := newAuthFixture(t)
	admin.Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    admin.Email,
		Password: "s3cret-pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestLoginRejectsMalformedPayload(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: ""})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEstablishSessionRoundTrip(t *testing.T) {
	svc, admin := newAuthFixture(t)

	signed, expiresAt, err := svc.EstablishSession(admin)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, claims.UserID)
	assert.Equal(t, admin.Role, claims.Role)
	assert.Equal(t, admin.Email, claims.Email)
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc, admin := newAuthFixture(t)

	signed, _, err := svc.EstablishSession(admin)
	require.NoError(t, err)

	other := NewAuthService(&memAuthRepo{}, nil, nil, AuthConfig{Secret: "different-secret", Expiration: time.Hour})
	_, err = other.ValidateToken(signed)
	require.Error(t, err)

	_, err = svc.ValidateToken(signed + "x")
	require.Error(t, err)

	_, err = svc.ValidateToken("not-a-token")
	require.Error(t, err)
}
