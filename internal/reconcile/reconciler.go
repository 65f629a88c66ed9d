package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/solgate/paywall-bot/internal/plans"
	"github.com/solgate/paywall-bot/internal/solana"
	"github.com/solgate/paywall-bot/internal/storage"
)

// Transfer is an observed inbound payment to the service wallet. The
// destination filter happens at the webhook boundary; by the time a
// Transfer reaches the reconciler only the sender and amount matter.
type Transfer struct {
	Sender    string
	Lamports  int64
	Signature string
}

// AccessGateway issues invites into the restricted group.
type AccessGateway interface {
	IssueSingleUseInvite(ctx context.Context, groupID int64, expireAt time.Time) (string, error)
}

// Notifier delivers best-effort direct messages. One attempt, failures
// are logged and dropped.
type Notifier interface {
	SendDirectMessage(ctx context.Context, userID int64, text string) error
}

// Reconciler matches observed transfers against pending purchase intents
// and promotes matches into active subscriptions.
type Reconciler struct {
	store     *storage.Storage
	catalog   plans.Catalog
	gateway   AccessGateway
	notifier  Notifier
	groupID   int64
	tolerance int64
	inviteTTL time.Duration
	log       *slog.Logger

	now func() time.Time
}

// New creates a new Reconciler. tolerance is the accepted shortfall in
// lamports below the expected amount.
func New(store *storage.Storage, catalog plans.Catalog, gateway AccessGateway, notifier Notifier, groupID, tolerance int64, inviteTTL time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		catalog:   catalog,
		gateway:   gateway,
		notifier:  notifier,
		groupID:   groupID,
		tolerance: tolerance,
		inviteTTL: inviteTTL,
		log:       log,
		now:       time.Now,
	}
}

// Process reconciles a single observed transfer. Never returns an error:
// every outcome short of a store failure is an expected state of the
// protocol and is logged at the appropriate level.
func (r *Reconciler) Process(ctx context.Context, tr Transfer) {
	candidates, err := r.store.FindIntentsByWallet(tr.Sender)
	if err != nil {
		r.log.Error("find intents by wallet", "error", err, "sender", solana.ShortAddr(tr.Sender, 4))
		return
	}

	if len(candidates) == 0 {
		// Unattributed transfer. Expected and normal: tips, change,
		// or a duplicate delivery after the intent was consumed.
		r.log.Debug("transfer without matching intent",
			"sender", solana.ShortAddr(tr.Sender, 4),
			"lamports", tr.Lamports,
		)
		return
	}

	if len(candidates) > 1 {
		// Shared wallet strings are outside the trust model; credit
		// the earliest intent and say so in the logs.
		r.log.Warn("multiple intents share a wallet, crediting the oldest",
			"sender", solana.ShortAddr(tr.Sender, 4),
			"candidates", len(candidates),
		)
	}

	intent := candidates[0]

	if tr.Lamports+r.tolerance < intent.ExpectedLamports {
		// Underpayment: keep the intent so a top-up can still match.
		shortfall := intent.ExpectedLamports - tr.Lamports
		r.log.Info("underpayment rejected, intent retained",
			"user_id", intent.UserID,
			"expected", intent.ExpectedLamports,
			"received", tr.Lamports,
			"shortfall", shortfall,
		)

		text := "Payment received but short by " + plans.FormatSOL(shortfall) + " SOL.\n" +
			"Send the remainder from the same wallet to complete your purchase."
		if err := r.notifier.SendDirectMessage(ctx, intent.UserID, text); err != nil {
			r.log.Error("send underpayment notice", "error", err, "user_id", intent.UserID)
		}
		return
	}

	plan, ok := r.catalog.Get(intent.Plan)
	if !ok {
		r.log.Error("intent references unknown plan", "plan", intent.Plan, "user_id", intent.UserID)
		return
	}

	expiresAt := plan.ExpiryFrom(r.now())

	payment := storage.Payment{
		Signature:     tr.Signature,
		UserID:        intent.UserID,
		Lamports:      tr.Lamports,
		SenderAddress: tr.Sender,
	}

	granted, err := r.store.ConsumeIntentAndGrant(payment, plan.ID, expiresAt)
	if err != nil {
		r.log.Error("consume intent and grant", "error", err, "user_id", intent.UserID)
		return
	}
	if !granted {
		// Either a concurrent delivery consumed the intent first or this
		// signature was credited before.
		r.log.Debug("duplicate delivery ignored",
			"user_id", intent.UserID,
			"signature", tr.Signature,
		)
		return
	}

	r.log.Info("subscription granted",
		"user_id", intent.UserID,
		"plan", plan.ID,
		"lamports", tr.Lamports,
		"lifetime", plan.Lifetime(),
	)

	// Payment acceptance is authoritative. Invite issuance and the DM are
	// best effort and never roll back the grant.
	r.deliverInvite(ctx, intent.UserID, plan)
}

func (r *Reconciler) deliverInvite(ctx context.Context, userID int64, plan plans.Plan) {
	link, err := r.gateway.IssueSingleUseInvite(ctx, r.groupID, r.now().Add(r.inviteTTL))
	if err != nil {
		r.log.Error("issue invite", "error", err, "user_id", userID)
		return
	}

	text := "Payment confirmed! Your " + plan.Label + " access is active.\n" +
		"Join here (single-use link):\n" + link
	if err := r.notifier.SendDirectMessage(ctx, userID, text); err != nil {
		r.log.Error("send invite", "error", err, "user_id", userID)
	}
}
