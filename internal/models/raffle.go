package models

import "time"

// Raffle statuses
const (
	RaffleComingSoon = "coming_soon"
	RaffleActive     = "active"
	RaffleCompleted  = "completed"
	RaffleCancelled  = "cancelled"
)

// Raffle is a time-boxed prize drawing. Winner fields are set only by the
// draw, never by the admin update path.
type Raffle struct {
	ID               int64      `json:"id" db:"id"`
	Title            string     `json:"title" db:"title"`
	Description      string     `json:"description" db:"description"`
	Category         string     `json:"category" db:"category"`
	Year             int        `json:"year,omitempty" db:"year"`
	Grade            string     `json:"grade,omitempty" db:"grade"`
	Value            float64    `json:"value" db:"value"`
	ImageURL         string     `json:"imageUrl" db:"image_url"`
	Status           string     `json:"status" db:"status"`
	DrawDate         time.Time  `json:"drawDate" db:"draw_date"`
	MinTickets       int64      `json:"minTickets" db:"min_tickets"`
	MaxTickets       *int64     `json:"maxTickets,omitempty" db:"max_tickets"`
	Featured         bool       `json:"featured" db:"featured"`
	WinnerUserID     *int64     `json:"winnerUserId,omitempty" db:"winner_user_id"`
	WinnerSelectedAt *time.Time `json:"winnerSelectedAt,omitempty" db:"winner_selected_at"`
	CreatedAt        time.Time  `json:"createdAt" db:"created_at"`
}

// RaffleEntry links a user to a raffle with a ticket count. Each ticket is
// one chance in the draw; the matching ledger debit is written in the same
// database transaction.
type RaffleEntry struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"userId" db:"user_id"`
	RaffleID    int64     `json:"raffleId" db:"raffle_id"`
	TicketCount int64     `json:"ticketCount" db:"ticket_count"`
	EnteredAt   time.Time `json:"enteredAt" db:"entered_at"`
}
