package services

import (
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultgrails/backend/internal/models"
)

func TestSelectWinner(t *testing.T) {
	t.Run("no entries yields no winner", func(t *testing.T) {
		_, ok := selectWinner(nil, rand.New(rand.NewSource(1)))
		assert.False(t, ok)
	})

	t.Run("zero-count entries contribute no chances", func(t *testing.T) {
		entries := []models.RaffleEntry{
			{UserID: 1, TicketCount: 0},
			{UserID: 2, TicketCount: 4},
		}
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 100; i++ {
			winner, ok := selectWinner(entries, rng)
			require.True(t, ok)
			assert.Equal(t, int64(2), winner)
		}
	})

	t.Run("win probability is proportional to ticket count", func(t *testing.T) {
		entries := []models.RaffleEntry{
			{UserID: 1, TicketCount: 3},
			{UserID: 2, TicketCount: 1},
		}
		rng := rand.New(rand.NewSource(42))

		const draws = 10000
		winsA := 0
		for i := 0; i < draws; i++ {
			winner, ok := selectWinner(entries, rng)
			require.True(t, ok)
			if winner == 1 {
				winsA++
			}
		}

		ratio := float64(winsA) / draws
		assert.InDelta(t, 0.75, ratio, 0.05)
	})
}

func TestDrawService_ConcurrentDraws(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewDrawService(db)
	entries := []models.RaffleEntry{
		{UserID: 1, TicketCount: 3},
		{UserID: 2, TicketCount: 1},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				winner, ok := svc.pickWinner(entries)
				assert.True(t, ok)
				assert.Contains(t, []int64{1, 2}, winner)
			}
		}()
	}
	wg.Wait()
}

func TestDrawService_DrawRaffle(t *testing.T) {
	t.Run("completed raffle cannot be drawn again", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := NewDrawService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT status FROM raffles WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
		mock.ExpectRollback()

		_, _, err = svc.draw(1)
		assert.ErrorIs(t, err, ErrAlreadyDrawn)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty raffle cannot be drawn", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := NewDrawService(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT status FROM raffles WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT user_id, ticket_count FROM raffle_entries WHERE raffle_id = $1`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "ticket_count"}))
		mock.ExpectRollback()

		_, _, err = svc.draw(1)
		assert.ErrorIs(t, err, ErrNoEntries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("winner and completion are written in one transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		svc := NewDrawService(db)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT status FROM raffles WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT user_id, ticket_count FROM raffle_entries WHERE raffle_id = $1`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "ticket_count"}).AddRow(7, 4))
		mock.ExpectQuery("UPDATE raffles").
			WithArgs(int64(7), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "title", "description", "category", "year", "grade", "value",
				"image_url", "status", "draw_date", "min_tickets", "max_tickets", "featured",
				"winner_user_id", "winner_selected_at", "created_at",
			}).AddRow(1, "1999 Holo Grail", "", "pokemon", 1999, "PSA 10", 5000.0,
				"https://img.example/1.png", "completed", now, 1, nil, true, 7, now, now))
		mock.ExpectQuery("SELECT id, email, username, first_name, last_name FROM users").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "first_name", "last_name"}).
				AddRow(7, "winner@example.com", "winner", "Win", "Ner"))
		mock.ExpectCommit()

		raffle, winner, err := svc.draw(1)
		require.NoError(t, err)
		assert.Equal(t, models.RaffleCompleted, raffle.Status)
		require.NotNil(t, raffle.WinnerUserID)
		assert.Equal(t, int64(7), *raffle.WinnerUserID)
		assert.Equal(t, "winner@example.com", winner.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
