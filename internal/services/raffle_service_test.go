package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeRemaining(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		drawDate time.Time
		want     string
	}{
		{"days and hours", now.Add(50 * time.Hour), "2d 2h"},
		{"hours and minutes", now.Add(3*time.Hour + 30*time.Minute), "3h 30m"},
		{"minutes only", now.Add(45 * time.Minute), "45m"},
		{"exactly now clamps to Ended", now, "Ended"},
		{"past clamps to Ended", now.Add(-time.Hour), "Ended"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, timeRemaining(tt.drawDate, now))
		})
	}
}

func TestEmojiForCategory(t *testing.T) {
	assert.Equal(t, "🎴", emojiForCategory("pokemon"))
	assert.Equal(t, "🎴", emojiForCategory("Pokemon"))
	assert.Equal(t, "🏀", emojiForCategory("sports"))
	assert.Equal(t, defaultCategoryEmoji, emojiForCategory("beanie-babies"))
	assert.Equal(t, defaultCategoryEmoji, emojiForCategory(""))
}

func TestRaffleService_UpdateRaffle_RejectsSystemFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewRaffleService(db)

	for _, field := range []string{"id", "createdAt", "winnerUserId", "winnerSelectedAt", "totalEntries"} {
		t.Run(field, func(t *testing.T) {
			body := `{"` + field + `": 1}`
			req := httptest.NewRequest(http.MethodPut, "/api/admin/raffles/1", strings.NewReader(body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "1")
			req = req.WithContext(withRouteContext(req.Context(), rctx))
			w := httptest.NewRecorder()

			svc.UpdateRaffle(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRaffleService_DeleteRaffle_WithEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewRaffleService(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM raffle_entries").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/raffles/1", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "1")
	req = req.WithContext(withRouteContext(req.Context(), rctx))
	w := httptest.NewRecorder()

	svc.DeleteRaffle(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "cancelled")
	assert.NoError(t, mock.ExpectationsWereMet())
}
