package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/vaultgrails/backend/internal/models"
)

type AdminService struct {
	db        *sql.DB
	ledger    *TicketLedgerService
	validator *ValidationHelper
}

func NewAdminService(db *sql.DB, ledger *TicketLedgerService) *AdminService {
	return &AdminService{db: db, ledger: ledger, validator: NewValidationHelper()}
}

// adminUser is the listing row, with the balance derived from the ledger.
type adminUser struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	Username           string     `json:"username"`
	FirstName          string     `json:"firstName"`
	LastName           string     `json:"lastName"`
	Role               string     `json:"role"`
	TicketBalance      int64      `json:"ticketBalance"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
}

// ListUsers returns the user roster
// @Summary List users (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 100, max 500)"
// @Param offset query int false "Offset"
// @Success 200 {object} object{count=int,users=[]adminUser}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/users [get]
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o > 0 {
		offset = o
	}

	rows, err := s.db.Query(`
		SELECT u.id, u.email, u.username, u.first_name, u.last_name, u.role,
			u.subscription_status, u.created_at, u.last_login,
			COALESCE((SELECT SUM(t.amount) FROM ticket_transactions t WHERE t.user_id = u.id), 0)
		FROM users u
		ORDER BY u.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		log.Printf("[ADMIN] User listing failed: %v", err)
		SendErrorResponse(w, "Failed to get users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []adminUser{}
	for rows.Next() {
		var u adminUser
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName,
			&u.Role, &u.SubscriptionStatus, &u.CreatedAt, &u.LastLogin, &u.TicketBalance); err != nil {
			log.Printf("[ADMIN] User scan failed: %v", err)
			SendErrorResponse(w, "Failed to get users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ADMIN] User rows failed: %v", err)
		SendErrorResponse(w, "Failed to get users", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"count": len(users),
		"users": users,
	})
}

// GetStats returns platform counters
// @Summary Platform statistics (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{totalUsers=int64,activeRaffles=int64,totalEntries=int64,premiumUsers=int64,ticketsIssued=int64}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/stats [get]
func (s *AdminService) GetStats(w http.ResponseWriter, r *http.Request) {
	var totalUsers, activeRaffles, totalEntries, premiumUsers, ticketsIssued int64
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM raffles WHERE status = 'active'),
			(SELECT COUNT(*) FROM raffle_entries),
			(SELECT COUNT(*) FROM users WHERE subscription_status = 'premium'),
			(SELECT COALESCE(SUM(amount), 0) FROM ticket_transactions WHERE amount > 0)
	`).Scan(&totalUsers, &activeRaffles, &totalEntries, &premiumUsers, &ticketsIssued)
	if err != nil {
		log.Printf("[ADMIN] Stats query failed: %v", err)
		SendErrorResponse(w, "Failed to get statistics", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"totalUsers":    totalUsers,
		"activeRaffles": activeRaffles,
		"totalEntries":  totalEntries,
		"premiumUsers":  premiumUsers,
		"ticketsIssued": ticketsIssued,
	})
}

// AdjustmentRequest is a manual ledger correction
// @Description Admin ledger adjustment payload
type AdjustmentRequest struct {
	UserID int64  `json:"userId" validate:"required"`
	Amount int64  `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// CreateAdjustment appends a signed admin_adjustment ledger entry
// @Summary Adjust a user's tickets (admin)
// @Description Appends a signed correction entry; the amount may be negative
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AdjustmentRequest true "Adjustment"
// @Success 200 {object} object{message=string,newBalance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse "User not found"
// @Router /admin/adjustments [post]
func (s *AdminService) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	newBalance, err := s.ledger.Credit(models.LedgerEntry{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        models.EntryAdminAdjustment,
		Description: req.Reason,
	})
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			log.Printf("[ADMIN] Adjustment failed for user %d: %v", req.UserID, err)
		}
		sendDomainError(w, err)
		return
	}

	log.Printf("[ADMIN] Adjustment of %+d tickets applied to user %d", req.Amount, req.UserID)
	SendJSON(w, http.StatusOK, map[string]any{
		"message":    "Adjustment applied",
		"newBalance": newBalance,
	})
}
