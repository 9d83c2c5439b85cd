package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"

	"github.com/vaultgrails/backend/internal/middleware"
	"github.com/vaultgrails/backend/internal/models"
)

// EntryService records raffle entries and ad-reward credits. Every
// check-then-write path runs inside one transaction holding the user's
// row lock, so concurrent requests for the same user serialize.
type EntryService struct {
	db     *sql.DB
	ledger *TicketLedgerService
}

func NewEntryService(db *sql.DB, ledger *TicketLedgerService) *EntryService {
	return &EntryService{db: db, ledger: ledger}
}

// EnterRaffleRequest is the entry payload
// @Description Raffle entry request
type EnterRaffleRequest struct {
	Tickets int64 `json:"tickets" example:"5"`
}

type entryResult struct {
	EntryID    int64
	NewBalance int64
}

// EnterRaffle spends tickets on a raffle
// @Summary Enter a raffle
// @Description Atomically validates the entry and debits the ticket ledger
// @Tags raffles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Raffle ID"
// @Param request body EnterRaffleRequest true "Ticket count"
// @Success 200 {object} object{message=string,entry=object{id=int64,ticketCount=int64},newBalance=int64}
// @Failure 400 {object} services.ErrorResponse "Invalid count, inactive raffle or past draw date"
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Insufficient balance"
// @Router /raffles/{id}/enter [post]
func (s *EntryService) EnterRaffle(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	raffleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		sendDomainError(w, ErrRaffleNotFound)
		return
	}

	var req EnterRaffleRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	result, err := s.enterRaffle(identity.ID, raffleID, req.Tickets)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			log.Printf("[ENTRY] Entry failed for user %d raffle %d: %v", identity.ID, raffleID, err)
		}
		sendDomainError(w, err)
		return
	}

	log.Printf("[ENTRY] User %d entered raffle %d with %d tickets (entry %d)",
		identity.ID, raffleID, req.Tickets, result.EntryID)
	SendJSON(w, http.StatusOK, map[string]any{
		"message": "Successfully entered raffle!",
		"entry": map[string]any{
			"id":          result.EntryID,
			"ticketCount": req.Tickets,
		},
		"newBalance": result.NewBalance,
	})
}

// enterRaffle validates in order (count, existence, status, draw date,
// bounds, balance) and commits the entry row plus the ledger debit as one
// unit. The user row lock is taken before the balance read.
func (s *EntryService) enterRaffle(userID, raffleID, tickets int64) (*entryResult, error) {
	if tickets < 1 {
		return nil, ErrInvalidTicketCount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.ledger.LockUserTx(tx, userID); err != nil {
		return nil, err
	}

	var raffle models.Raffle
	err = tx.QueryRow(`
		SELECT id, title, status, draw_date, min_tickets, max_tickets
		FROM raffles WHERE id = $1
	`, raffleID).Scan(&raffle.ID, &raffle.Title, &raffle.Status,
		&raffle.DrawDate, &raffle.MinTickets, &raffle.MaxTickets)
	if err == sql.ErrNoRows {
		return nil, ErrRaffleNotFound
	}
	if err != nil {
		return nil, err
	}

	if raffle.Status != models.RaffleActive {
		if raffle.Status == models.RaffleComingSoon {
			return nil, ErrRaffleNotYetOpen
		}
		return nil, ErrRaffleNotActive
	}
	if !time.Now().Before(raffle.DrawDate) {
		return nil, ErrRaffleEnded
	}
	if tickets < raffle.MinTickets || (raffle.MaxTickets != nil && tickets > *raffle.MaxTickets) {
		return nil, &TicketBoundsError{Requested: tickets, Min: raffle.MinTickets, Max: raffle.MaxTickets}
	}

	balance, err := s.ledger.BalanceTx(tx, userID)
	if err != nil {
		return nil, err
	}
	if balance < tickets {
		return nil, &InsufficientBalanceError{Required: tickets, Available: balance}
	}

	var entryID int64
	err = tx.QueryRow(`
		INSERT INTO raffle_entries (user_id, raffle_id, ticket_count)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, raffleID, tickets).Scan(&entryID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.AppendTx(tx, models.LedgerEntry{
		UserID:      userID,
		Amount:      -tickets,
		Type:        models.EntryRaffleEntry,
		Description: fmt.Sprintf("Entered raffle: %s", raffle.Title),
	}); err != nil {
		return nil, err
	}

	newBalance, err := s.ledger.BalanceTx(tx, userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &entryResult{EntryID: entryID, NewBalance: newBalance}, nil
}

// WatchAdRequest identifies the watched ad
// @Description Ad watch payload
type WatchAdRequest struct {
	AdID string `json:"adId" example:"rewarded-video-1"`
}

// WatchAd credits one ticket for a watched ad
// @Summary Record an ad view
// @Description Credits one ticket, capped per rolling 24 hours
// @Tags ads
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body WatchAdRequest false "Ad identifier"
// @Success 200 {object} object{message=string,newBalance=int64,adsWatchedToday=int64,adsRemainingToday=int64}
// @Failure 429 {object} services.ErrorResponse "Daily limit reached"
// @Router /ads/watch [post]
func (s *EntryService) WatchAd(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WatchAdRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req); err != nil {
			SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
			return
		}
	}

	dailyLimit := viper.GetInt64("ads.daily_limit")
	if dailyLimit == 0 {
		dailyLimit = 5
	}

	newBalance, watched, err := s.watchAd(identity.ID, req.AdID, dailyLimit)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			log.Printf("[ADS] Ad credit failed for user %d: %v", identity.ID, err)
		}
		sendDomainError(w, err)
		return
	}

	log.Printf("[ADS] User %d earned 1 ticket (%d/%d today)", identity.ID, watched, dailyLimit)
	SendJSON(w, http.StatusOK, map[string]any{
		"message":           "Ticket earned!",
		"newBalance":        newBalance,
		"adsWatchedToday":   watched,
		"adsRemainingToday": dailyLimit - watched,
	})
}

func (s *EntryService) watchAd(userID int64, adID string, dailyLimit int64) (balance, watched int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	if err := s.ledger.LockUserTx(tx, userID); err != nil {
		return 0, 0, err
	}

	var viewsInWindow int64
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM ad_views
		WHERE user_id = $1 AND viewed_at > NOW() - INTERVAL '24 hours'
	`, userID).Scan(&viewsInWindow)
	if err != nil {
		return 0, 0, err
	}
	if viewsInWindow >= dailyLimit {
		return 0, 0, ErrDailyLimitReached
	}

	if _, err := tx.Exec(`
		INSERT INTO ad_views (user_id, ad_id, tickets_earned)
		VALUES ($1, $2, 1)
	`, userID, adID); err != nil {
		return 0, 0, err
	}

	if _, err := s.ledger.AppendTx(tx, models.LedgerEntry{
		UserID:      userID,
		Amount:      1,
		Type:        models.EntryAdReward,
		Description: "Watched ad",
	}); err != nil {
		return 0, 0, err
	}

	newBalance, err := s.ledger.BalanceTx(tx, userID)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return newBalance, viewsInWindow + 1, nil
}

// AdStats reports ad watching totals
// @Summary Ad stats
// @Tags ads
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{totalAdsWatched=int64,totalTicketsEarned=int64,adsWatchedToday=int64,adsRemainingToday=int64}
// @Router /ads/stats [get]
func (s *EntryService) AdStats(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	dailyLimit := viper.GetInt64("ads.daily_limit")
	if dailyLimit == 0 {
		dailyLimit = 5
	}

	var total, earned, today int64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(tickets_earned), 0),
			COUNT(*) FILTER (WHERE viewed_at > NOW() - INTERVAL '24 hours')
		FROM ad_views WHERE user_id = $1
	`, identity.ID).Scan(&total, &earned, &today)
	if err != nil {
		log.Printf("[ADS] Stats query failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get ad stats", http.StatusInternalServerError, nil)
		return
	}

	remaining := dailyLimit - today
	if remaining < 0 {
		remaining = 0
	}
	SendJSON(w, http.StatusOK, map[string]any{
		"totalAdsWatched":    total,
		"totalTicketsEarned": earned,
		"adsWatchedToday":    today,
		"adsRemainingToday":  remaining,
	})
}

// userEntry is a raffle entry joined with its raffle summary.
type userEntry struct {
	ID          int64     `json:"id"`
	TicketCount int64     `json:"ticketCount"`
	EnteredAt   time.Time `json:"enteredAt"`
	Raffle      struct {
		ID       int64     `json:"id"`
		Title    string    `json:"title"`
		Category string    `json:"category"`
		ImageURL string    `json:"imageUrl"`
		Status   string    `json:"status"`
		DrawDate time.Time `json:"drawDate"`
	} `json:"raffle"`
}

func (s *EntryService) listEntries(userID int64, activeOnly bool) ([]userEntry, error) {
	query := `
		SELECT e.id, e.ticket_count, e.entered_at,
			r.id, r.title, r.category, r.image_url, r.status, r.draw_date
		FROM raffle_entries e
		JOIN raffles r ON r.id = e.raffle_id
		WHERE e.user_id = $1`
	if activeOnly {
		query += ` AND r.status = 'active' AND r.draw_date > NOW()`
	}
	query += ` ORDER BY e.entered_at DESC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []userEntry{}
	for rows.Next() {
		var e userEntry
		if err := rows.Scan(&e.ID, &e.TicketCount, &e.EnteredAt,
			&e.Raffle.ID, &e.Raffle.Title, &e.Raffle.Category,
			&e.Raffle.ImageURL, &e.Raffle.Status, &e.Raffle.DrawDate); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntries returns all of the caller's raffle entries
// @Summary List my entries
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{count=int,entries=[]userEntry}
// @Router /user/entries [get]
func (s *EntryService) GetEntries(w http.ResponseWriter, r *http.Request) {
	s.respondEntries(w, r, false)
}

// GetActiveEntries returns entries in raffles that are still open
// @Summary List my active entries
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{count=int,entries=[]userEntry}
// @Router /user/entries/active [get]
func (s *EntryService) GetActiveEntries(w http.ResponseWriter, r *http.Request) {
	s.respondEntries(w, r, true)
}

func (s *EntryService) respondEntries(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entries, err := s.listEntries(identity.ID, activeOnly)
	if err != nil {
		log.Printf("[ENTRY] Entry listing failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get entries", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

// GetWins returns completed raffles the caller won
// @Summary List my wins
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{count=int,wins=[]models.Raffle}
// @Router /user/wins [get]
func (s *EntryService) GetWins(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM raffles r
		WHERE r.winner_user_id = $1 AND r.status = 'completed'
		ORDER BY r.winner_selected_at DESC`, raffleColumns), identity.ID)
	if err != nil {
		log.Printf("[ENTRY] Wins query failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get wins", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	wins := []models.Raffle{}
	for rows.Next() {
		raffle, err := scanRaffle(rows)
		if err != nil {
			log.Printf("[ENTRY] Wins scan failed for user %d: %v", identity.ID, err)
			SendErrorResponse(w, "Failed to get wins", http.StatusInternalServerError, nil)
			return
		}
		wins = append(wins, raffle)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ENTRY] Wins rows failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get wins", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"count": len(wins),
		"wins":  wins,
	})
}
