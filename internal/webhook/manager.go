package webhook

import (
	"context"
	"log/slog"

	"github.com/solgate/paywall-bot/internal/solana"
)

// Manager keeps the Helius webhook registration in sync with the service
// configuration: one webhook pointing at our endpoint, subscribed to the
// receiving wallet.
type Manager struct {
	client          *solana.Client
	endpoint        string
	receivingWallet string
	secret          string
	log             *slog.Logger
}

// NewManager creates a new webhook registration manager.
func NewManager(client *solana.Client, endpoint, receivingWallet, secret string, log *slog.Logger) *Manager {
	return &Manager{
		client:          client,
		endpoint:        endpoint,
		receivingWallet: receivingWallet,
		secret:          secret,
		log:             log,
	}
}

// Ensure registers the webhook if it does not exist, or fixes its address
// subscription when it drifted.
func (m *Manager) Ensure(ctx context.Context) error {
	if m.endpoint == "" {
		m.log.Warn("webhook endpoint not set, skipping webhook registration")
		return nil
	}

	webhooks, err := m.client.ListWebhooks(ctx)
	if err != nil {
		return err
	}

	for _, wh := range webhooks {
		if wh.WebhookURL != m.endpoint {
			continue
		}

		if containsAddress(wh.AccountAddresses, m.receivingWallet) {
			m.log.Info("using existing webhook", "id", wh.WebhookID)
			return nil
		}

		wh.AccountAddresses = append(wh.AccountAddresses, m.receivingWallet)
		if err := m.client.EditWebhook(ctx, wh.WebhookID, wh); err != nil {
			return err
		}
		m.log.Info("subscribed receiving wallet on existing webhook", "id", wh.WebhookID)
		return nil
	}

	// The registered authHeader value comes back on each delivery in the
	// Authorization request header; the server accepts it there.
	created, err := m.client.CreateWebhook(ctx, solana.Webhook{
		WebhookURL:       m.endpoint,
		AccountAddresses: []string{m.receivingWallet},
		TransactionTypes: []string{"TRANSFER"},
		WebhookType:      "enhanced",
		AuthHeader:       m.secret,
	})
	if err != nil {
		return err
	}

	m.log.Info("created new webhook", "id", created.WebhookID)
	return nil
}

func containsAddress(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}
