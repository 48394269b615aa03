package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func userRows(id, login, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "login", "email", "password_hash", "full_name", "role", "active", "created_at", "updated_at"}).
		AddRow(id, login, email, "hash", "User", string(models.RoleMember), true, now, now)
}

func TestFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, login, email, password_hash, full_name, role, active, created_at, updated_at FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("u1").
		WillReturnRows(userRows("u1", "alice", "alice@example.com"))

	user, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Login)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .* FROM users WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, login, email, password_hash, full_name, role, active, created_at, updated_at FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("alice@example.com").
		WillReturnRows(userRows("u1", "alice", "alice@example.com"))

	user, err := repo.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchResolvesEmailThenLogin(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .* FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(userRows("u1", "alice", "alice@example.com"))

	user, err := repo.Fetch(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	mock.ExpectQuery("SELECT .* FROM users WHERE login").
		WithArgs("bob").
		WillReturnRows(userRows("u2", "bob", "bob@example.com"))

	user, err = repo.Fetch(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "u2", user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchTriesIDFirstForUUID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	const id = "6f1e1a9e-7b9d-4d9f-a0c4-0b1a2c3d4e5f"
	mock.ExpectQuery("SELECT .* FROM users WHERE id").
		WithArgs(id).
		WillReturnRows(userRows(id, "carol", "carol@example.com"))

	user, err := repo.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "carol", user.Login)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Login: "dave", Email: "dave@example.com", PasswordHash: "hash", Role: models.RoleMember, Active: true}
	err := repo.Create(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMetaMissingKey(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT meta_value FROM user_meta").
		WithArgs("u1", "some_key").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetMeta(context.Background(), "u1", "some_key")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetThenGetMeta(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO user_meta").
		WithArgs("u1", "some_key", []byte(`{"a":1}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.SetMeta(context.Background(), "u1", "some_key", []byte(`{"a":1}`))
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"meta_value"}).AddRow([]byte(`{"a":1}`))
	mock.ExpectQuery("SELECT meta_value FROM user_meta").
		WithArgs("u1", "some_key").
		WillReturnRows(rows)

	value, err := repo.GetMeta(context.Background(), "u1", "some_key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))
	assert.NoError(t, mock.ExpectationsWereMet())
}
