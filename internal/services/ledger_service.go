package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"

	"github.com/vaultgrails/backend/internal/middleware"
	"github.com/vaultgrails/backend/internal/models"
)

// TicketLedgerService owns the append-only ticket ledger. A user's balance
// is always the sum of their entries; no mutable balance counter exists
// anywhere, so the ledger can never diverge from a cached total.
type TicketLedgerService struct {
	db *sql.DB
}

func NewTicketLedgerService(db *sql.DB) *TicketLedgerService {
	return &TicketLedgerService{db: db}
}

// Balance derives a user's ticket balance from the ledger.
func (s *TicketLedgerService) Balance(userID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

// BalanceTx derives the balance inside an open transaction. Callers that
// intend to spend against the result must hold the user row lock first
// (LockUserTx) or the check-then-debit sequence can race.
func (s *TicketLedgerService) BalanceTx(tx *sql.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

// LockUserTx takes the per-user serialization lock. Every balance-check-
// then-debit sequence runs under this lock so concurrent requests for the
// same user cannot both observe a sufficient balance.
func (s *TicketLedgerService) LockUserTx(tx *sql.Tx, userID int64) error {
	var id int64
	err := tx.QueryRow(`SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	return err
}

// AppendTx inserts a ledger entry inside an open transaction and returns
// its id. Entries are immutable once written.
func (s *TicketLedgerService) AppendTx(tx *sql.Tx, entry models.LedgerEntry) (int64, error) {
	var paymentID any
	if entry.StripePaymentID != "" {
		paymentID = entry.StripePaymentID
	}
	var id int64
	err := tx.QueryRow(`
		INSERT INTO ticket_transactions (user_id, amount, type, description, stripe_payment_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.UserID, entry.Amount, entry.Type, entry.Description, paymentID).Scan(&id)
	return id, err
}

// Credit appends a single entry in its own transaction, holding the user
// row lock, and returns the new balance.
func (s *TicketLedgerService) Credit(entry models.LedgerEntry) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := s.LockUserTx(tx, entry.UserID); err != nil {
		return 0, err
	}
	if _, err := s.AppendTx(tx, entry); err != nil {
		return 0, err
	}
	balance, err := s.BalanceTx(tx, entry.UserID)
	if err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

// History returns a user's ledger entries, newest first.
func (s *TicketLedgerService) History(userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount, type, description, COALESCE(stripe_payment_id, ''), created_at
		FROM ticket_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.Description,
			&e.StripePaymentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBalance returns the caller's derived ticket balance
// @Summary Get ticket balance
// @Description Get the authenticated user's ticket balance and subscription tier
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64,subscriptionStatus=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /tickets/balance [get]
func (s *TicketLedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.Balance(identity.ID)
	if err != nil {
		log.Printf("[LEDGER] Balance query failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get ticket balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"balance":            balance,
		"subscriptionStatus": identity.SubscriptionStatus,
	})
}

// ListTransactions returns the caller's paginated ledger history
// @Summary Get transaction history
// @Description Get the authenticated user's ticket transaction history, newest first
// @Tags user
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Offset (default 0)"
// @Success 200 {object} object{count=int,transactions=[]models.LedgerEntry}
// @Failure 401 {object} services.ErrorResponse
// @Router /user/transactions [get]
func (s *TicketLedgerService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o > 0 {
		offset = o
	}

	entries, err := s.History(identity.ID, limit, offset)
	if err != nil {
		log.Printf("[LEDGER] History query failed for user %d: %v", identity.ID, err)
		SendErrorResponse(w, "Failed to get transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"count":        len(entries),
		"transactions": entries,
	})
}
