package storage

import "time"

// SubscriptionStatus is the explicit access state of an account, replacing
// the raw plan/expires_at column overlap with a tagged value.
type SubscriptionStatus int

const (
	StatusNone SubscriptionStatus = iota
	StatusActiveUntil
	StatusLifetime
)

// Account merges the wallet registration and the subscription for one user.
// Rows are never deleted; revocation clears the plan fields only.
type Account struct {
	UserID        int64
	Username      string
	WalletAddress string
	Plan          string // empty = no plan
	ExpiresAt     *time.Time
	ReminderSent  bool
	CreatedAt     time.Time
}

// Status returns the tagged subscription state. expires_at is only
// meaningful when a plan is set; a set plan with no expiry is lifetime.
func (a *Account) Status() SubscriptionStatus {
	if a.Plan == "" {
		return StatusNone
	}
	if a.ExpiresAt == nil {
		return StatusLifetime
	}
	return StatusActiveUntil
}

// PendingIntent is a user's outstanding commitment to pay for a plan from
// a specific wallet. At most one exists per user.
type PendingIntent struct {
	UserID           int64
	WalletAddress    string // snapshot at intent time
	Plan             string
	ExpectedLamports int64
	CreatedAt        time.Time
}

// Payment records an accepted transfer for audit and duplicate detection.
type Payment struct {
	Signature     string
	UserID        int64
	Lamports      int64
	SenderAddress string
	ReceivedAt    time.Time
}

// ExpiringSubscription pairs a user with their upcoming expiry for reminders.
type ExpiringSubscription struct {
	UserID    int64
	ExpiresAt time.Time
}
