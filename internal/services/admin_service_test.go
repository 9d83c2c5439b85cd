package services

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminService(t *testing.T) (*AdminService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	ledger := NewTicketLedgerService(db)
	return NewAdminService(db, ledger), mock, func() { db.Close() }
}

func TestAdminService_GetStats(t *testing.T) {
	svc, mock, done := newAdminService(t)
	defer done()

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"users", "raffles", "entries", "premium", "issued"}).
			AddRow(120, 4, 900, 15, 50000))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	w := httptest.NewRecorder()
	svc.GetStats(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(120), resp["totalUsers"])
	assert.Equal(t, int64(4), resp["activeRaffles"])
	assert.Equal(t, int64(50000), resp["ticketsIssued"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminService_CreateAdjustment(t *testing.T) {
	t.Run("negative adjustment is applied through the ledger", func(t *testing.T) {
		svc, mock, done := newAdminService(t)
		defer done()

		mock.ExpectBegin()
		expectUserLock(mock, 7)
		mock.ExpectQuery(regexp.QuoteMeta(
			`INSERT INTO ticket_transactions (user_id, amount, type, description, stripe_payment_id)`)).
			WithArgs(int64(7), int64(-25), "admin_adjustment", "chargeback reversal", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(61))
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1`)).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(75))
		mock.ExpectCommit()

		body := `{"userId": 7, "amount": -25, "reason": "chargeback reversal"}`
		req := httptest.NewRequest(http.MethodPost, "/api/admin/adjustments", strings.NewReader(body))
		w := httptest.NewRecorder()
		svc.CreateAdjustment(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(75), resp["newBalance"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing reason fails validation", func(t *testing.T) {
		svc, _, done := newAdminService(t)
		defer done()

		body := `{"userId": 7, "amount": 10}`
		req := httptest.NewRequest(http.MethodPost, "/api/admin/adjustments", strings.NewReader(body))
		w := httptest.NewRecorder()
		svc.CreateAdjustment(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown user maps to 404", func(t *testing.T) {
		svc, mock, done := newAdminService(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT id FROM users WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		body := `{"userId": 404, "amount": 10, "reason": "goodwill credit"}`
		req := httptest.NewRequest(http.MethodPost, "/api/admin/adjustments", strings.NewReader(body))
		w := httptest.NewRecorder()
		svc.CreateAdjustment(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
