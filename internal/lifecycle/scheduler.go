package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/solgate/paywall-bot/internal/storage"
)

// AccessGateway removes members from the restricted group. Removal is
// kick-and-allow-rejoin, not a permanent ban.
type AccessGateway interface {
	RemoveMember(ctx context.Context, groupID, userID int64) error
}

// Notifier delivers best-effort direct messages.
type Notifier interface {
	SendDirectMessage(ctx context.Context, userID int64, text string) error
}

// Scheduler periodically sweeps subscriptions: reminds users nearing
// expiry, revokes lapsed access, and drops stale purchase intents.
type Scheduler struct {
	store          *storage.Storage
	gateway        AccessGateway
	notifier       Notifier
	groupID        int64
	reminderWindow time.Duration
	intentTTL      time.Duration // 0 disables the stale-intent pass
	log            *slog.Logger

	now func() time.Time
}

// New creates a new Scheduler.
func New(store *storage.Storage, gateway AccessGateway, notifier Notifier, groupID int64, reminderWindow, intentTTL time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:          store,
		gateway:        gateway,
		notifier:       notifier,
		groupID:        groupID,
		reminderWindow: reminderWindow,
		intentTTL:      intentTTL,
		log:            log,
		now:            time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled. Sweeps run
// synchronously on the ticker, so a tick never overlaps the previous one.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.log.Info("lifecycle scheduler started",
		"interval", interval,
		"reminder_window", s.reminderWindow,
		"intent_ttl", s.intentTTL,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass: reminders, revocations, stale intents.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()
	s.remindExpiring(ctx, now)
	s.revokeExpired(ctx, now)
	s.dropStaleIntents(now)
}

func (s *Scheduler) remindExpiring(ctx context.Context, now time.Time) {
	expiring, err := s.store.ListExpiringWithin(now, s.reminderWindow)
	if err != nil {
		s.log.Error("list expiring subscriptions", "error", err)
		return
	}

	for _, e := range expiring {
		text := "Your access expires on " + e.ExpiresAt.UTC().Format("2006-01-02 15:04 MST") + ".\n" +
			"Renew with /subscribe to keep your spot."
		if err := s.notifier.SendDirectMessage(ctx, e.UserID, text); err != nil {
			s.log.Error("send expiry reminder", "error", err, "user_id", e.UserID)
		}

		// Marked even when the send failed: one attempt per period,
		// never a reminder storm.
		if err := s.store.MarkReminded(e.UserID); err != nil {
			s.log.Error("mark reminded", "error", err, "user_id", e.UserID)
		}
	}

	if len(expiring) > 0 {
		s.log.Info("reminder pass complete", "reminded", len(expiring))
	}
}

func (s *Scheduler) revokeExpired(ctx context.Context, now time.Time) {
	expired, err := s.store.ListExpired(now)
	if err != nil {
		s.log.Error("list expired subscriptions", "error", err)
		return
	}

	revoked := 0
	for _, userID := range expired {
		// The store is cleared only after the group removal succeeds;
		// otherwise the user would keep group access with no
		// subscription row left to retry from.
		if err := s.gateway.RemoveMember(ctx, s.groupID, userID); err != nil {
			s.log.Error("remove member", "error", err, "user_id", userID)
			continue
		}

		if err := s.store.Revoke(userID); err != nil {
			s.log.Error("revoke subscription", "error", err, "user_id", userID)
			continue
		}
		revoked++

		text := "Your access has expired and you've been removed from the group.\n" +
			"Use /subscribe any time to come back."
		if err := s.notifier.SendDirectMessage(ctx, userID, text); err != nil {
			s.log.Error("send revocation notice", "error", err, "user_id", userID)
		}
	}

	if len(expired) > 0 {
		s.log.Info("revocation pass complete", "expired", len(expired), "revoked", revoked)
	}
}

func (s *Scheduler) dropStaleIntents(now time.Time) {
	if s.intentTTL <= 0 {
		return
	}

	dropped, err := s.store.DeleteIntentsBefore(now.Add(-s.intentTTL))
	if err != nil {
		s.log.Error("delete stale intents", "error", err)
		return
	}

	if dropped > 0 {
		s.log.Info("dropped stale intents", "count", dropped)
	}
}
