package models

import "time"

// Subscription tiers
const (
	SubscriptionFree    = "free"
	SubscriptionPremium = "premium"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account. The ticket balance is never stored
// here; it is always derived from the ticket_transactions ledger.
type User struct {
	ID                 int64      `json:"id" db:"id"`
	Email              string     `json:"email" db:"email"`
	Username           string     `json:"username" db:"username"`
	FirstName          string     `json:"firstName" db:"first_name"`
	LastName           string     `json:"lastName" db:"last_name"`
	DateOfBirth        time.Time  `json:"dateOfBirth" db:"date_of_birth"`
	Role               string     `json:"role" db:"role"`
	SubscriptionStatus string     `json:"subscriptionStatus" db:"subscription_status"`
	StripeCustomerID   string     `json:"-" db:"stripe_customer_id"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	LastLogin          *time.Time `json:"lastLogin,omitempty" db:"last_login"`
}
