package models

import "time"

// Ledger entry kinds
const (
	EntryPurchase        = "purchase"
	EntryAdReward        = "ad_reward"
	EntryRaffleEntry     = "raffle_entry"
	EntrySubscription    = "subscription"
	EntryAdminAdjustment = "admin_adjustment"
)

// LedgerEntry is an immutable signed ticket amount. Entries are only ever
// inserted; a user's balance at any point is the sum of their entries.
type LedgerEntry struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"userId" db:"user_id"`
	Amount          int64     `json:"amount" db:"amount"`
	Type            string    `json:"type" db:"type"`
	Description     string    `json:"description" db:"description"`
	StripePaymentID string    `json:"stripePaymentId,omitempty" db:"stripe_payment_id"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}
