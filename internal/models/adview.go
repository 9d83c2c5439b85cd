package models

import "time"

// AdView records a single completed ad watch. Used only to enforce the
// rolling 24-hour reward cap.
type AdView struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"userId" db:"user_id"`
	AdID          string    `json:"adId" db:"ad_id"`
	TicketsEarned int64     `json:"ticketsEarned" db:"tickets_earned"`
	ViewedAt      time.Time `json:"viewedAt" db:"viewed_at"`
}
