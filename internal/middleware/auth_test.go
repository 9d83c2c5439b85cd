package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityEcho(t *testing.T) (http.Handler, *Identity) {
	t.Helper()
	captured := &Identity{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := IdentityFrom(r.Context()); ok {
			*captured = *identity
		}
		w.WriteHeader(http.StatusOK)
	})
	return h, captured
}

func expectIdentityLookup(mock sqlmock.Sqlmock, userID int64, role string, balance int64) {
	mock.ExpectQuery("SELECT u.email, u.username, u.first_name, u.last_name").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{
			"email", "username", "first_name", "last_name", "subscription_status", "role", "coalesce",
		}).AddRow("user@example.com", "cardcollector", "John", "Doe", "free", role, balance))
}

func TestAuthenticate(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	InitAuthMiddleware(db, nil)

	t.Run("missing token", func(t *testing.T) {
		handler, _ := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
		w := httptest.NewRecorder()

		Authenticate(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		handler, _ := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
		req.Header.Set("Authorization", "Basic abc123")
		w := httptest.NewRecorder()

		Authenticate(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		handler, _ := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		w := httptest.NewRecorder()

		Authenticate(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token resolves identity with derived balance", func(t *testing.T) {
		token, err := GenerateToken(7)
		require.NoError(t, err)
		expectIdentityLookup(mock, 7, "user", 42)

		handler, captured := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		Authenticate(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(7), captured.ID)
		assert.Equal(t, int64(42), captured.TicketBalance)
		assert.False(t, captured.IsAdmin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deleted user is unauthenticated, not a server error", func(t *testing.T) {
		token, err := GenerateToken(8)
		require.NoError(t, err)
		mock.ExpectQuery("SELECT u.email, u.username, u.first_name, u.last_name").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{
				"email", "username", "first_name", "last_name", "subscription_status", "role", "coalesce",
			}))

		handler, _ := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		Authenticate(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "User not found")
	})
}

func TestRequireAdmin(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	InitAuthMiddleware(db, nil)

	t.Run("no identity yields 401", func(t *testing.T) {
		handler, _ := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
		w := httptest.NewRecorder()

		RequireAdmin(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-admin role yields 403", func(t *testing.T) {
		token, err := GenerateToken(7)
		require.NoError(t, err)
		expectIdentityLookup(mock, 7, "user", 0)

		handler, _ := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		Authenticate(RequireAdmin(handler)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin role passes", func(t *testing.T) {
		token, err := GenerateToken(1)
		require.NoError(t, err)
		expectIdentityLookup(mock, 1, "admin", 0)

		handler, captured := identityEcho(t)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		Authenticate(RequireAdmin(handler)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, captured.IsAdmin)
	})
}

func TestOptionalAuth(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	InitAuthMiddleware(db, nil)

	t.Run("anonymous request proceeds without identity", func(t *testing.T) {
		called := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := IdentityFrom(r.Context())
			assert.False(t, ok)
			called = true
		})

		req := httptest.NewRequest(http.MethodGet, "/api/raffles", nil)
		w := httptest.NewRecorder()
		OptionalAuth(handler).ServeHTTP(w, req)
		assert.True(t, called)
	})

	t.Run("bad token proceeds without identity", func(t *testing.T) {
		called := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := IdentityFrom(r.Context())
			assert.False(t, ok)
			called = true
		})

		req := httptest.NewRequest(http.MethodGet, "/api/raffles", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := httptest.NewRecorder()
		OptionalAuth(handler).ServeHTTP(w, req)
		assert.True(t, called)
	})
}
