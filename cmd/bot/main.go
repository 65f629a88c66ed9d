package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/solgate/paywall-bot/internal/config"
	"github.com/solgate/paywall-bot/internal/lifecycle"
	"github.com/solgate/paywall-bot/internal/plans"
	"github.com/solgate/paywall-bot/internal/reconcile"
	"github.com/solgate/paywall-bot/internal/solana"
	"github.com/solgate/paywall-bot/internal/storage"
	"github.com/solgate/paywall-bot/internal/telegram"
	"github.com/solgate/paywall-bot/internal/webhook"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.GroupID == 0 {
		log.Error("GROUP_ID is required")
		os.Exit(1)
	}
	if err := solana.ValidateAddress(cfg.ReceivingWallet); err != nil {
		log.Error("RECEIVING_WALLET is missing or invalid", "error", err)
		os.Exit(1)
	}
	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET is empty, webhook deliveries are unauthenticated")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	catalog := plans.DefaultCatalog()

	// Initialize Helius client
	helius := solana.NewClient(cfg.HeliusBaseURL, cfg.HeliusAPIKey)
	log.Info("helius client initialized", "base_url", cfg.HeliusBaseURL)

	// Initialize telegram bot
	bot, err := telegram.New(cfg, store, catalog, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Initialize reconciler
	reconciler := reconcile.New(store, catalog, bot, bot,
		cfg.GroupID, cfg.ToleranceLamports, cfg.InviteTTL, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register the transfer-feed webhook
	if cfg.WebhookURL != "" {
		manager := webhook.NewManager(helius, cfg.WebhookURL, cfg.ReceivingWallet, cfg.WebhookSecret, log)
		if err := manager.Ensure(ctx); err != nil {
			log.Error("ensure webhook registration", "error", err)
		} else {
			log.Info("webhook registration ensured", "endpoint", cfg.WebhookURL)
		}
	}

	// Seed recent transfers before the server accepts deliveries; a seed
	// racing the live feed could mark a just-landed payment as already
	// seen and block its grant.
	seedRecentTransfers(ctx, store, helius, cfg.ReceivingWallet, log)

	// Start webhook server
	webhookServer := webhook.NewServer(cfg.ReceivingWallet, cfg.WebhookSecret, reconciler.Process, log)
	go func() {
		if err := webhookServer.Start(ctx, cfg.WebhookPort); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server", "error", err)
		}
	}()

	// Start lifecycle scheduler
	scheduler := lifecycle.New(store, bot, bot,
		cfg.GroupID, cfg.ReminderWindow, cfg.IntentTTL, log)
	go scheduler.Start(ctx, cfg.SweepInterval)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)
}

// transferSource is the slice of the Helius client the seed needs.
type transferSource interface {
	GetAddressTransactions(ctx context.Context, address string, limit int) ([]solana.EnhancedTransaction, error)
}

// seedRecentTransfers records the signatures of recent inbound transfers so
// that a replayed delivery of a transfer that predates this process cannot
// credit a freshly created intent. Must complete before the webhook server
// starts, or it could race a live delivery of a fresh payment.
func seedRecentTransfers(ctx context.Context, store *storage.Storage, source transferSource, wallet string, log *slog.Logger) {
	txs, err := source.GetAddressTransactions(ctx, wallet, 25)
	if err != nil {
		log.Warn("seed recent transfers", "error", err)
		return
	}

	seeded := 0
	for _, tx := range txs {
		if tx.Signature == "" {
			continue
		}
		for _, nt := range tx.NativeTransfers {
			if !strings.EqualFold(nt.ToUserAccount, wallet) {
				continue
			}
			lamports, ok := nt.Amount.Int64()
			if !ok {
				continue
			}
			isNew, err := store.RecordPayment(storage.Payment{
				Signature:     tx.Signature,
				Lamports:      lamports,
				SenderAddress: nt.FromUserAccount,
			})
			if err != nil {
				log.Warn("seed payment record", "signature", tx.Signature, "error", err)
				continue
			}
			if isNew {
				seeded++
			}
			break
		}
	}
	log.Info("seeded recent transfers", "count", seeded)
}
