package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors surfaced by the ledger, entry, draw and registry paths.
// Handlers translate these to client-facing statuses; anything unrecognised
// is logged and reported as a generic 500 without internal detail.
var (
	ErrRaffleNotFound      = errors.New("raffle not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrRaffleNotActive     = errors.New("raffle is not active")
	ErrRaffleNotYetOpen    = errors.New("raffle is not open yet")
	ErrRaffleEnded         = errors.New("raffle has ended")
	ErrInvalidTicketCount  = errors.New("invalid ticket count")
	ErrDailyLimitReached   = errors.New("daily ad limit reached")
	ErrNoEntries           = errors.New("no entries for this raffle")
	ErrAlreadyDrawn        = errors.New("raffle has already been drawn")
	ErrHasDependentEntries = errors.New(`cannot delete raffle with entries; set status to "cancelled" instead`)
	ErrAlreadyProcessed    = errors.New("payment already processed")
)

// InsufficientBalanceError reports how many tickets were requested against
// how many the ledger holds.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient ticket balance: required %d, available %d", e.Required, e.Available)
}

// TicketBoundsError reports a request outside a raffle's per-entry bounds.
type TicketBoundsError struct {
	Requested int64
	Min       int64
	Max       *int64
}

func (e *TicketBoundsError) Error() string {
	if e.Requested < e.Min {
		return fmt.Sprintf("minimum %d tickets required", e.Min)
	}
	return fmt.Sprintf("maximum %d tickets per entry", *e.Max)
}

// statusForError maps a domain error to an HTTP status code.
func statusForError(err error) int {
	var balErr *InsufficientBalanceError
	var boundsErr *TicketBoundsError
	switch {
	case errors.Is(err, ErrRaffleNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTicketCount), errors.Is(err, ErrRaffleNotActive),
		errors.Is(err, ErrRaffleNotYetOpen), errors.Is(err, ErrRaffleEnded),
		errors.As(err, &boundsErr):
		return http.StatusBadRequest
	case errors.As(err, &balErr), errors.Is(err, ErrAlreadyDrawn),
		errors.Is(err, ErrHasDependentEntries), errors.Is(err, ErrNoEntries):
		return http.StatusConflict
	case errors.Is(err, ErrDailyLimitReached):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// sendDomainError writes a domain error as a JSON response. Insufficient
// balance additionally reports required vs available amounts.
func sendDomainError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		SendErrorResponse(w, "An internal error occurred", status, nil)
		return
	}

	var balErr *InsufficientBalanceError
	if errors.As(err, &balErr) {
		SendJSON(w, status, map[string]any{
			"error":     "Insufficient ticket balance",
			"required":  balErr.Required,
			"available": balErr.Available,
		})
		return
	}

	SendErrorResponse(w, err.Error(), status, nil)
}
