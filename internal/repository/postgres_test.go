package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var userColumnNames = []string{
	"id", "username", "email", "full_name", "role", "status",
	"created_at", "updated_at", "last_login_at",
}

func newMockUserStore(t *testing.T) (*PostgresUserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresUserStore(db)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func aliceRow() *sqlmock.Rows {
	return sqlmock.NewRows(userColumnNames).
		AddRow(1, "alice", "alice@example.com", "Alice Liddell", "admin", "active", fixedNow, fixedNow, nil)
}

func TestGetByID(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(aliceRow())

	user, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.Equal(t, models.StatusActive, user.Status)
	assert.Nil(t, user.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGetByUsernameWithLastLogin(t *testing.T) {
	store, mock := newMockUserStore(t)
	lastLogin := fixedNow.Add(-time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE username = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(userColumnNames).
			AddRow(2, "bob", "", "", "user", "disabled", fixedNow, fixedNow, lastLogin))

	user, err := store.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.True(t, lastLogin.Equal(*user.LastLoginAt))
	assert.False(t, user.IsActive())
}

func TestCreate(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("alice", "alice@example.com", "Alice Liddell", "$2a$hash", "admin", "active", fixedNow, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(aliceRow())

	user, err := store.Create(context.Background(), &models.CreateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		FullName: "Alice Liddell",
		Password: "$2a$hash",
		Role:     models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateUsername(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.Create(context.Background(), &models.CreateUserRequest{
		Username: "alice",
		Password: "$2a$hash",
		Role:     models.RoleUser,
	})
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestUpdateBuildsPlaceholders(t *testing.T) {
	store, mock := newMockUserStore(t)
	email := "new@example.com"
	status := models.StatusDisabled

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET updated_at = $1, email = $2, status = $3 WHERE id = $4`)).
		WithArgs(fixedNow, email, "disabled", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(aliceRow())

	_, err := store.Update(context.Background(), 1, &models.UpdateUserRequest{
		Email:  &email,
		Status: &status,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotFound(t *testing.T) {
	store, mock := newMockUserStore(t)
	name := "X"

	mock.ExpectExec(`UPDATE users SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.Update(context.Background(), 5, &models.UpdateUserRequest{FullName: &name})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestDelete(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.Delete(context.Background(), 3))
	assert.ErrorIs(t, store.Delete(context.Background(), 4), errors.ErrNotFound)
}

func TestListWithFilters(t *testing.T) {
	store, mock := newMockUserStore(t)
	role := models.RoleAuditor

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users WHERE 1=1 AND role = $1 AND (username ILIKE $2 OR email ILIKE $2 OR full_name ILIKE $2)`)).
		WithArgs("auditor", "%ali%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`)).
		WithArgs("auditor", "%ali%", 20, 0).
		WillReturnRows(aliceRow())

	users, total, err := store.List(context.Background(), &models.UserListFilter{
		Limit:  20,
		Search: "ali",
		Role:   &role,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLastLoginAndPasswordHash(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET last_login_at = $1 WHERE id = $2`)).
		WithArgs(fixedNow, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT password_hash FROM users WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow("$2a$hash"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT password_hash FROM users WHERE id = $1`)).
		WithArgs(int64(2)).
		WillReturnError(sql.ErrNoRows)

	require.NoError(t, store.UpdateLastLogin(context.Background(), 1, fixedNow))

	hash, err := store.GetPasswordHash(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "$2a$hash", hash)

	_, err = store.GetPasswordHash(context.Background(), 2)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestArgList(t *testing.T) {
	var args argList
	assert.Equal(t, "$1", args.add("a"))
	assert.Equal(t, "$2", args.add(2))
	assert.Equal(t, "$10", func() string {
		for i := 0; i < 7; i++ {
			args.add(i)
		}
		return args.add("last")
	}())
	assert.Len(t, args.values, 10)
}
