package services

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultgrails/backend/internal/models"
)

func TestTicketLedgerService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewTicketLedgerService(db)

	t.Run("balance is the sum of ledger entries", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1`)).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(42))

		balance, err := svc.Balance(7)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), balance)
	})

	t.Run("user with no entries has zero balance", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1`)).
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		balance, err := svc.Balance(8)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketLedgerService_Credit(t *testing.T) {
	t.Run("takes the user row lock before writing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := NewTicketLedgerService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT id FROM users WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery(regexp.QuoteMeta(
			`INSERT INTO ticket_transactions (user_id, amount, type, description, stripe_payment_id)`)).
			WithArgs(int64(3), int64(50), "admin_adjustment", "compensation", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1`)).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(50))
		mock.ExpectCommit()

		balance, err := svc.Credit(models.LedgerEntry{
			UserID:      3,
			Amount:      50,
			Type:        models.EntryAdminAdjustment,
			Description: "compensation",
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(50), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := NewTicketLedgerService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT id FROM users WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err = svc.Credit(models.LedgerEntry{UserID: 99, Amount: 5, Type: models.EntryAdminAdjustment})
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTicketLedgerService_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewTicketLedgerService(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "type", "description", "coalesce", "created_at"}).
		AddRow(2, 7, -10, "raffle_entry", "Entered raffle: 1999 Holo", "", now).
		AddRow(1, 7, 100, "purchase", "Purchased package_100 (100 tickets)", "pi_123", now.Add(-time.Hour))

	mock.ExpectQuery("SELECT id, user_id, amount, type, description").
		WithArgs(int64(7), 50, 0).
		WillReturnRows(rows)

	entries, err := svc.History(7, 50, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int64(-10), entries[0].Amount)
	assert.Equal(t, "pi_123", entries[1].StripePaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
