package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vaultgrails/backend/internal/models"
)

type RaffleService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewRaffleService(db *sql.DB) *RaffleService {
	return &RaffleService{db: db, validator: NewValidationHelper()}
}

var categoryEmojis = map[string]string{
	"pokemon":    "🎴",
	"sports":     "🏀",
	"gaming":     "🎮",
	"comics":     "📚",
	"coins":      "🪙",
	"memorabilia": "🏆",
}

const defaultCategoryEmoji = "🎁"

// RaffleResponse is a raffle with its presentation-only derived fields.
type RaffleResponse struct {
	models.Raffle
	TimeRemaining string `json:"timeRemaining"`
	Emoji         string `json:"emoji"`
	TotalEntries  int64  `json:"totalEntries"`
	TotalTickets  int64  `json:"totalTickets"`
}

// timeRemaining renders the gap to the draw date; past dates collapse to "Ended".
func timeRemaining(drawDate, now time.Time) string {
	d := drawDate.Sub(now)
	if d <= 0 {
		return "Ended"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func emojiForCategory(category string) string {
	if e, ok := categoryEmojis[strings.ToLower(category)]; ok {
		return e
	}
	return defaultCategoryEmoji
}

func toRaffleResponse(raffle models.Raffle, entries, tickets int64, now time.Time) RaffleResponse {
	return RaffleResponse{
		Raffle:        raffle,
		TimeRemaining: timeRemaining(raffle.DrawDate, now),
		Emoji:         emojiForCategory(raffle.Category),
		TotalEntries:  entries,
		TotalTickets:  tickets,
	}
}

const raffleColumns = `r.id, r.title, r.description, r.category, r.year, r.grade, r.value,
		r.image_url, r.status, r.draw_date, r.min_tickets, r.max_tickets, r.featured,
		r.winner_user_id, r.winner_selected_at, r.created_at`

func scanRaffle(row interface{ Scan(...any) error }) (models.Raffle, error) {
	var raffle models.Raffle
	err := row.Scan(&raffle.ID, &raffle.Title, &raffle.Description, &raffle.Category,
		&raffle.Year, &raffle.Grade, &raffle.Value, &raffle.ImageURL, &raffle.Status,
		&raffle.DrawDate, &raffle.MinTickets, &raffle.MaxTickets, &raffle.Featured,
		&raffle.WinnerUserID, &raffle.WinnerSelectedAt, &raffle.CreatedAt)
	return raffle, err
}

// ListRaffles returns the raffle catalogue
// @Summary List raffles
// @Description List raffles with optional status, category and featured filters
// @Tags raffles
// @Produce json
// @Param status query string false "Raffle status filter" Enums(coming_soon, active, completed, cancelled)
// @Param category query string false "Category filter"
// @Param featured query bool false "Only featured raffles"
// @Param limit query int false "Max results (default 100)"
// @Success 200 {object} object{count=int,raffles=[]RaffleResponse}
// @Failure 500 {object} services.ErrorResponse
// @Router /raffles [get]
func (s *RaffleService) ListRaffles(w http.ResponseWriter, r *http.Request) {
	conditions := []string{"1=1"}
	args := []any{}

	if status := r.URL.Query().Get("status"); status != "" && status != "all" {
		args = append(args, status)
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if category := r.URL.Query().Get("category"); category != "" && category != "all" {
		args = append(args, category)
		conditions = append(conditions, fmt.Sprintf("r.category = $%d", len(args)))
	}
	if r.URL.Query().Get("featured") == "true" {
		conditions = append(conditions, "r.featured = TRUE")
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s,
			COUNT(e.id) AS total_entries,
			COALESCE(SUM(e.ticket_count), 0) AS total_tickets
		FROM raffles r
		LEFT JOIN raffle_entries e ON e.raffle_id = r.id
		WHERE %s
		GROUP BY r.id
		ORDER BY r.featured DESC, r.draw_date ASC
		LIMIT $%d`, raffleColumns, strings.Join(conditions, " AND "), len(args))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[RAFFLE] List query failed: %v", err)
		SendErrorResponse(w, "Failed to fetch raffles", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	now := time.Now()
	raffles := []RaffleResponse{}
	for rows.Next() {
		var raffle models.Raffle
		var entries, tickets int64
		if err := rows.Scan(&raffle.ID, &raffle.Title, &raffle.Description, &raffle.Category,
			&raffle.Year, &raffle.Grade, &raffle.Value, &raffle.ImageURL, &raffle.Status,
			&raffle.DrawDate, &raffle.MinTickets, &raffle.MaxTickets, &raffle.Featured,
			&raffle.WinnerUserID, &raffle.WinnerSelectedAt, &raffle.CreatedAt,
			&entries, &tickets); err != nil {
			log.Printf("[RAFFLE] List scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch raffles", http.StatusInternalServerError, nil)
			return
		}
		raffles = append(raffles, toRaffleResponse(raffle, entries, tickets, now))
	}
	if err := rows.Err(); err != nil {
		log.Printf("[RAFFLE] List rows failed: %v", err)
		SendErrorResponse(w, "Failed to fetch raffles", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"count":   len(raffles),
		"raffles": raffles,
	})
}

// GetRaffle returns a single raffle with live counters
// @Summary Get raffle detail
// @Tags raffles
// @Produce json
// @Param id path int true "Raffle ID"
// @Success 200 {object} object{raffle=RaffleResponse}
// @Failure 404 {object} services.ErrorResponse
// @Router /raffles/{id} [get]
func (s *RaffleService) GetRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid raffle id", http.StatusBadRequest, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT %s,
			COUNT(e.id) AS total_entries,
			COALESCE(SUM(e.ticket_count), 0) AS total_tickets
		FROM raffles r
		LEFT JOIN raffle_entries e ON e.raffle_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`, raffleColumns)

	var raffle models.Raffle
	var entries, tickets int64
	err = s.db.QueryRow(query, raffleID).Scan(&raffle.ID, &raffle.Title, &raffle.Description,
		&raffle.Category, &raffle.Year, &raffle.Grade, &raffle.Value, &raffle.ImageURL,
		&raffle.Status, &raffle.DrawDate, &raffle.MinTickets, &raffle.MaxTickets,
		&raffle.Featured, &raffle.WinnerUserID, &raffle.WinnerSelectedAt, &raffle.CreatedAt,
		&entries, &tickets)
	if err == sql.ErrNoRows {
		sendDomainError(w, ErrRaffleNotFound)
		return
	}
	if err != nil {
		log.Printf("[RAFFLE] Fetch failed for raffle %d: %v", raffleID, err)
		SendErrorResponse(w, "Failed to fetch raffle", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"raffle": toRaffleResponse(raffle, entries, tickets, time.Now()),
	})
}

// CreateRaffleRequest represents the admin raffle creation payload
// @Description Raffle creation request
type CreateRaffleRequest struct {
	Title       string  `json:"title" validate:"required,min=1,max=255"`
	Description string  `json:"description" validate:"max=2000"`
	Category    string  `json:"category" validate:"required"`
	Year        int     `json:"year" validate:"omitempty,min=1800,max=2100"`
	Grade       string  `json:"grade"`
	Value       float64 `json:"value" validate:"required,gt=0"`
	ImageURL    string  `json:"imageUrl" validate:"required,url"`
	Featured    bool    `json:"featured"`
	DrawDate    string  `json:"drawDate" validate:"required"`
	MinTickets  int64   `json:"minTickets" validate:"omitempty,min=1"`
	MaxTickets  *int64  `json:"maxTickets" validate:"omitempty,min=1"`
	Status      string  `json:"status" validate:"omitempty,oneof=coming_soon active completed cancelled"`
}

// CreateRaffle creates a raffle
// @Summary Create raffle (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateRaffleRequest true "Raffle"
// @Success 201 {object} object{message=string,raffle=RaffleResponse}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/raffles [post]
func (s *RaffleService) CreateRaffle(w http.ResponseWriter, r *http.Request) {
	var req CreateRaffleRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Missing required fields", http.StatusBadRequest, err)
		return
	}

	drawDate, err := time.Parse(time.RFC3339, req.DrawDate)
	if err != nil {
		SendErrorResponse(w, "Invalid draw date", http.StatusBadRequest, nil)
		return
	}

	if req.MinTickets == 0 {
		req.MinTickets = 1
	}
	if req.Status == "" {
		req.Status = models.RaffleActive
	}
	if req.MaxTickets != nil && *req.MaxTickets < req.MinTickets {
		SendErrorResponse(w, "maxTickets must be >= minTickets", http.StatusBadRequest, nil)
		return
	}

	query := fmt.Sprintf(`
		INSERT INTO raffles (title, description, category, year, grade, value,
			image_url, status, draw_date, min_tickets, max_tickets, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING %s`, strings.ReplaceAll(raffleColumns, "r.", ""))

	raffle, err := scanRaffle(s.db.QueryRow(query,
		req.Title, req.Description, req.Category, req.Year, req.Grade, req.Value,
		req.ImageURL, req.Status, drawDate, req.MinTickets, req.MaxTickets, req.Featured))
	if err != nil {
		log.Printf("[RAFFLE] Create failed: %v", err)
		SendErrorResponse(w, "Failed to create raffle", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[RAFFLE] Created raffle %d (%s)", raffle.ID, raffle.Title)
	SendJSON(w, http.StatusCreated, map[string]any{
		"message": "Raffle created successfully",
		"raffle":  toRaffleResponse(raffle, 0, 0, time.Now()),
	})
}

// Columns an admin may touch through the update endpoint, keyed by their
// JSON names. Everything else (id, winner fields, createdAt, derived
// totals) is system managed and rejected outright.
var raffleUpdatableColumns = map[string]string{
	"title":       "title",
	"description": "description",
	"category":    "category",
	"year":        "year",
	"grade":       "grade",
	"value":       "value",
	"imageUrl":    "image_url",
	"status":      "status",
	"drawDate":    "draw_date",
	"minTickets":  "min_tickets",
	"maxTickets":  "max_tickets",
	"featured":    "featured",
}

// UpdateRaffle applies a partial update
// @Summary Update raffle (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Raffle ID"
// @Param request body object true "Fields to update"
// @Success 200 {object} object{message=string,raffle=RaffleResponse}
// @Failure 400 {object} services.ErrorResponse "Unknown or system-managed field"
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/raffles/{id} [put]
func (s *RaffleService) UpdateRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid raffle id", http.StatusBadRequest, nil)
		return
	}

	body := http.MaxBytesReader(w, r.Body, 1<<20)
	var updates map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&updates); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if len(updates) == 0 {
		SendErrorResponse(w, "No updates provided", http.StatusBadRequest, nil)
		return
	}

	setClauses := []string{}
	args := []any{}
	for field, raw := range updates {
		column, ok := raffleUpdatableColumns[field]
		if !ok {
			SendErrorResponse(w, fmt.Sprintf("Field %q cannot be updated", field), http.StatusBadRequest, nil)
			return
		}

		var value any
		switch field {
		case "drawDate":
			var ts string
			if err := json.Unmarshal(raw, &ts); err != nil {
				SendErrorResponse(w, "Invalid draw date", http.StatusBadRequest, nil)
				return
			}
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				SendErrorResponse(w, "Invalid draw date", http.StatusBadRequest, nil)
				return
			}
			value = parsed
		case "status":
			var status string
			if err := json.Unmarshal(raw, &status); err != nil ||
				(status != models.RaffleComingSoon && status != models.RaffleActive &&
					status != models.RaffleCompleted && status != models.RaffleCancelled) {
				SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
				return
			}
			value = status
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				SendErrorResponse(w, fmt.Sprintf("Invalid value for %q", field), http.StatusBadRequest, nil)
				return
			}
			value = v
		}

		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	args = append(args, raffleID)
	query := fmt.Sprintf(`UPDATE raffles SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), len(args), strings.ReplaceAll(raffleColumns, "r.", ""))

	raffle, err := scanRaffle(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		sendDomainError(w, ErrRaffleNotFound)
		return
	}
	if err != nil {
		log.Printf("[RAFFLE] Update failed for raffle %d: %v", raffleID, err)
		SendErrorResponse(w, "Failed to update raffle", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[RAFFLE] Updated raffle %d", raffle.ID)
	SendJSON(w, http.StatusOK, map[string]any{
		"message": "Raffle updated successfully",
		"raffle":  toRaffleResponse(raffle, 0, 0, time.Now()),
	})
}

// DeleteRaffle removes a raffle without entries
// @Summary Delete raffle (admin)
// @Description Deletion is refused once entries exist; cancel the raffle instead
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Raffle ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Raffle has entries"
// @Router /admin/raffles/{id} [delete]
func (s *RaffleService) DeleteRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid raffle id", http.StatusBadRequest, nil)
		return
	}

	var entryCount int64
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM raffle_entries WHERE raffle_id = $1
	`, raffleID).Scan(&entryCount); err != nil {
		log.Printf("[RAFFLE] Entry check failed for raffle %d: %v", raffleID, err)
		SendErrorResponse(w, "Failed to delete raffle", http.StatusInternalServerError, nil)
		return
	}
	if entryCount > 0 {
		sendDomainError(w, ErrHasDependentEntries)
		return
	}

	result, err := s.db.Exec(`DELETE FROM raffles WHERE id = $1`, raffleID)
	if err != nil {
		log.Printf("[RAFFLE] Delete failed for raffle %d: %v", raffleID, err)
		SendErrorResponse(w, "Failed to delete raffle", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		sendDomainError(w, ErrRaffleNotFound)
		return
	}

	log.Printf("[RAFFLE] Deleted raffle %d", raffleID)
	SendJSON(w, http.StatusOK, map[string]string{"message": "Raffle deleted successfully"})
}
