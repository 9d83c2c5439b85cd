package services

import (
	"database/sql"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vaultgrails/backend/internal/models"
)

// DrawService selects raffle winners. Each ticket in an entry is one
// chance, so a user holding 3 of 4 tickets wins with probability 3/4.
// The generator is not safe for concurrent use, so mu serializes draws
// across handler goroutines.
type DrawService struct {
	db  *sql.DB
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDrawService(db *sql.DB) *DrawService {
	return &DrawService{
		db:  db,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// pickWinner serializes access to the shared generator so concurrent
// draw requests cannot corrupt its state.
func (s *DrawService) pickWinner(entries []models.RaffleEntry) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return selectWinner(entries, s.rng)
}

// selectWinner picks a user id weighted by ticket count. Entries with a
// non-positive count contribute no chances.
func selectWinner(entries []models.RaffleEntry, rng *rand.Rand) (int64, bool) {
	var total int64
	for _, e := range entries {
		if e.TicketCount > 0 {
			total += e.TicketCount
		}
	}
	if total == 0 {
		return 0, false
	}

	pick := rng.Int63n(total)

	for _, e := range entries {
		if e.TicketCount <= 0 {
			continue
		}
		if pick < e.TicketCount {
			return e.UserID, true
		}
		pick -= e.TicketCount
	}
	return 0, false
}

// DrawWinner holds the selected user's public details.
type DrawWinner struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DrawRaffle conducts the draw for a raffle
// @Summary Conduct raffle draw (admin)
// @Description Selects a ticket-weighted random winner and completes the raffle
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Raffle ID"
// @Success 200 {object} object{message=string,raffle=models.Raffle,winner=DrawWinner}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Already drawn or no entries"
// @Router /admin/raffles/{id}/draw [post]
func (s *DrawService) DrawRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendDomainError(w, ErrRaffleNotFound)
		return
	}

	raffle, winner, err := s.draw(raffleID)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			log.Printf("[DRAW] Draw failed for raffle %d: %v", raffleID, err)
		}
		sendDomainError(w, err)
		return
	}

	log.Printf("[DRAW] Raffle %d won by user %d", raffleID, winner.ID)
	SendJSON(w, http.StatusOK, map[string]any{
		"message": "Draw completed successfully",
		"raffle":  raffle,
		"winner":  winner,
	})
}

// draw locks the raffle row, re-checks its status under the lock, selects
// the winner and records it in the same transaction. A second concurrent
// draw blocks on the lock and then fails the status re-check.
func (s *DrawService) draw(raffleID int64) (*models.Raffle, *DrawWinner, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`
		SELECT status FROM raffles WHERE id = $1 FOR UPDATE
	`, raffleID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, nil, ErrRaffleNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if status == models.RaffleCompleted {
		return nil, nil, ErrAlreadyDrawn
	}

	rows, err := tx.Query(`
		SELECT user_id, ticket_count FROM raffle_entries WHERE raffle_id = $1
	`, raffleID)
	if err != nil {
		return nil, nil, err
	}
	entries := []models.RaffleEntry{}
	for rows.Next() {
		var e models.RaffleEntry
		if err := rows.Scan(&e.UserID, &e.TicketCount); err != nil {
			rows.Close()
			return nil, nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	winnerUserID, ok := s.pickWinner(entries)
	if !ok {
		return nil, nil, ErrNoEntries
	}

	raffle, err := scanRaffle(tx.QueryRow(`
		UPDATE raffles
		SET winner_user_id = $1, winner_selected_at = NOW(), status = 'completed'
		WHERE id = $2
		RETURNING id, title, description, category, year, grade, value,
			image_url, status, draw_date, min_tickets, max_tickets, featured,
			winner_user_id, winner_selected_at, created_at
	`, winnerUserID, raffleID))
	if err != nil {
		return nil, nil, err
	}

	var winner DrawWinner
	err = tx.QueryRow(`
		SELECT id, email, username, first_name, last_name FROM users WHERE id = $1
	`, winnerUserID).Scan(&winner.ID, &winner.Email, &winner.Username,
		&winner.FirstName, &winner.LastName)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &raffle, &winner, nil
}
