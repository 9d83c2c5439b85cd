package services

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) (*AuthService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	ledger := NewTicketLedgerService(db)
	return NewAuthService(db, nil, ledger), mock, func() { db.Close() }
}

func TestPasswordHashing(t *testing.T) {
	t.Run("hash and verify roundtrip", func(t *testing.T) {
		hash, err := hashPassword("correct-horse-battery")
		require.NoError(t, err)
		assert.Contains(t, hash, "$")

		assert.True(t, verifyPassword("correct-horse-battery", hash))
		assert.False(t, verifyPassword("wrong-password", hash))
	})

	t.Run("same password hashes differently per salt", func(t *testing.T) {
		h1, err := hashPassword("password123")
		require.NoError(t, err)
		h2, err := hashPassword("password123")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("malformed stored hash never verifies", func(t *testing.T) {
		assert.False(t, verifyPassword("anything", "not-a-hash"))
		assert.False(t, verifyPassword("anything", "a$b$c"))
	})
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 18, age(time.Date(2008, 8, 31, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 17, age(time.Date(2008, 9, 1, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 36, age(time.Date(1990, 4, 21, 0, 0, 0, 0, time.UTC), now))

	// Born in a leap year, coming of age in a common year. 2026 has no
	// 29 February, so the day-of-year offsets differ between the two years.
	marchDOB := time.Date(2008, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 17, age(marchDOB, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 18, age(marchDOB, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	leapDOB := time.Date(2008, 2, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 17, age(leapDOB, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 18, age(leapDOB, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func signupBody() string {
	return `{
		"email": "new@example.com",
		"username": "newuser",
		"password": "password123",
		"firstName": "New",
		"lastName": "User",
		"dateOfBirth": "1990-04-21"
	}`
}

func TestAuthService_Signup(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	t.Run("creates user and returns token", func(t *testing.T) {
		svc, mock, done := newAuthService(t)
		defer done()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("new@example.com", "newuser").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(signupBody()))
		w := httptest.NewRecorder()
		svc.Signup(w, req)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, int64(9), resp.User.ID)
		assert.Equal(t, int64(0), resp.User.TicketBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email or username conflicts", func(t *testing.T) {
		svc, mock, done := newAuthService(t)
		defer done()

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("new@example.com", "newuser").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(signupBody()))
		w := httptest.NewRecorder()
		svc.Signup(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short password fails validation", func(t *testing.T) {
		svc, _, done := newAuthService(t)
		defer done()

		body := strings.Replace(signupBody(), "password123", "short", 1)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(body))
		w := httptest.NewRecorder()
		svc.Signup(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("under 18 is rejected", func(t *testing.T) {
		svc, _, done := newAuthService(t)
		defer done()

		body := strings.Replace(signupBody(), "1990-04-21", time.Now().AddDate(-17, 0, 0).Format("2006-01-02"), 1)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(body))
		w := httptest.NewRecorder()
		svc.Signup(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "18")
	})
}

func TestAuthService_Login(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	userColumns := []string{"id", "email", "username", "first_name", "last_name", "subscription_status", "password_hash"}

	t.Run("valid credentials", func(t *testing.T) {
		svc, mock, done := newAuthService(t)
		defer done()

		hash, err := hashPassword("password123")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email, username, first_name, last_name, subscription_status, password_hash").
			WithArgs("user@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(7, "user@example.com", "cardcollector", "John", "Doe", "free", hash))
		mock.ExpectExec("UPDATE users SET last_login").
			WithArgs("user", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1`)).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(120))

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email": "user@example.com", "password": "password123"}`))
		w := httptest.NewRecorder()
		svc.Login(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, int64(120), resp.User.TicketBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, mock, done := newAuthService(t)
		defer done()

		hash, err := hashPassword("password123")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email, username, first_name, last_name, subscription_status, password_hash").
			WithArgs("user@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(7, "user@example.com", "cardcollector", "John", "Doe", "free", hash))

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email": "user@example.com", "password": "nope-nope"}`))
		w := httptest.NewRecorder()
		svc.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		svc, mock, done := newAuthService(t)
		defer done()

		mock.ExpectQuery("SELECT id, email, username, first_name, last_name, subscription_status, password_hash").
			WithArgs("ghost@example.com").
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email": "ghost@example.com", "password": "password123"}`))
		w := httptest.NewRecorder()
		svc.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	viper.Set("jwt.expiry_hours", 720)
	defer viper.Set("jwt.expiry_hours", 0)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	svc := NewAuthService(db, redisClient, NewTicketLedgerService(db))

	t.Run("blacklists the presented token until expiry", func(t *testing.T) {
		redisMock.ExpectSet("blacklist:sometoken", "1", 720*time.Hour).SetVal("OK")

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer sometoken")
		w := httptest.NewRecorder()
		svc.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("logout without a token still succeeds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		w := httptest.NewRecorder()
		svc.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
