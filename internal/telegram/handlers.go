package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/solgate/paywall-bot/internal/config"
	"github.com/solgate/paywall-bot/internal/plans"
	"github.com/solgate/paywall-bot/internal/solana"
	"github.com/solgate/paywall-bot/internal/storage"
)

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot     *bot.Bot
	cfg     *config.Config
	storage *storage.Storage
	catalog plans.Catalog
	states  *StateManager
	log     *slog.Logger
}

// New creates a new telegram bot
func New(cfg *config.Config, store *storage.Storage, catalog plans.Catalog, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:     cfg,
		storage: store,
		catalog: catalog,
		states:  NewStateManager(),
		log:     log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/subscribe", bot.MatchTypeExact, b.subscribeHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact, b.statusHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID
	userName := displayName(update.Message.From)

	text := fmt.Sprintf(
		"<a href='tg://user?id=%d'>%s</a>, welcome! 🔑\n\n"+
			"This bot sells time-boxed access to the private group, paid in SOL.\n\n"+
			"1. Register the wallet you'll pay from\n"+
			"2. Pick a plan and send the payment\n"+
			"3. Receive your single-use invite link\n\n"+
			"Choose an action 👇",
		userID, userName,
	)

	b.sendMessage(ctx, update.Message.Chat.ID, text, MainKeyboard())
}

func (b *Bot) subscribeHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID
	if _, err := b.storage.LookupWallet(userID); err == storage.ErrNotFound {
		b.sendMessage(ctx, update.Message.Chat.ID,
			"❌ Register your wallet first, so your payment can be matched to you.",
			MainKeyboard(),
		)
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, "Choose your plan:", PlansKeyboard(b.catalog))
}

func (b *Bot) statusHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	text := b.statusText(update.Message.From.ID)
	b.sendMessage(ctx, update.Message.Chat.ID, text, MainKeyboard())
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	text := strings.TrimSpace(update.Message.Text)

	switch b.states.Get(userID) {
	case StateWaitWallet:
		b.handleWaitWallet(ctx, update.Message, text)
	}
}

func (b *Bot) handleWaitWallet(ctx context.Context, msg *models.Message, text string) {
	userID := msg.From.ID

	if err := solana.ValidateAddress(text); err != nil {
		b.sendMessage(ctx, msg.Chat.ID,
			"❌ That doesn't look like a Solana address. Send the base58 wallet address you'll pay from.",
			nil,
		)
		return
	}

	if err := b.storage.UpsertWallet(userID, msg.From.Username, text); err != nil {
		b.log.Error("upsert wallet", "error", err, "user_id", userID)
		b.sendMessage(ctx, msg.Chat.ID, "❌ Failed to save the wallet, try again.", MainKeyboard())
		return
	}
	b.states.Clear(userID)

	b.log.Info("wallet registered",
		"user_id", userID,
		"address", solana.ShortAddr(text, 4),
	)

	b.sendMessage(ctx, msg.Chat.ID,
		"✅ Wallet saved: <code>"+text+"</code>\nNow pick a plan 👇",
		PlansKeyboard(b.catalog),
	)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	switch {
	case data == "back":
		b.showMainMenu(ctx, cb)
	case data == "register":
		b.handleRegister(ctx, cb)
	case data == "plans":
		b.showPlans(ctx, cb)
	case strings.HasPrefix(data, "plan:"):
		b.handlePlanChosen(ctx, cb, strings.TrimPrefix(data, "plan:"))
	case data == "status":
		b.showStatus(ctx, cb)
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", cb.From.ID)
	}
}

func (b *Bot) showMainMenu(ctx context.Context, cb *models.CallbackQuery) {
	userID := cb.From.ID
	userName := displayName(&cb.From)

	text := fmt.Sprintf(
		"<a href='tg://user?id=%d'>%s</a>, welcome back! 🔑\n\nChoose an action 👇",
		userID, userName,
	)

	b.editMessage(ctx, cb.Message, text, MainKeyboard())
}

func (b *Bot) handleRegister(ctx context.Context, cb *models.CallbackQuery) {
	b.states.Set(cb.From.ID, StateWaitWallet)
	b.editMessage(ctx, cb.Message,
		"🔹 Send the Solana wallet address you will pay from.\n"+
			"Payments are matched by sender, so it must be the exact wallet.",
		BackKeyboard(),
	)
}

func (b *Bot) showPlans(ctx context.Context, cb *models.CallbackQuery) {
	if _, err := b.storage.LookupWallet(cb.From.ID); err == storage.ErrNotFound {
		b.editMessage(ctx, cb.Message,
			"❌ Register your wallet first, so your payment can be matched to you.",
			MainKeyboard(),
		)
		return
	}

	b.editMessage(ctx, cb.Message, "Choose your plan:", PlansKeyboard(b.catalog))
}

func (b *Bot) handlePlanChosen(ctx context.Context, cb *models.CallbackQuery, planID string) {
	userID := cb.From.ID

	plan, ok := b.catalog.Get(planID)
	if !ok {
		b.log.Warn("unknown plan chosen", "plan", planID, "user_id", userID)
		b.editMessage(ctx, cb.Message, "❌ Unknown plan, pick one from the list.", PlansKeyboard(b.catalog))
		return
	}

	wallet, err := b.storage.LookupWallet(userID)
	if err == storage.ErrNotFound {
		b.editMessage(ctx, cb.Message,
			"❌ Register your wallet first, so your payment can be matched to you.",
			MainKeyboard(),
		)
		return
	}
	if err != nil {
		b.log.Error("lookup wallet", "error", err, "user_id", userID)
		return
	}

	// Price is fixed at intent time; later catalog changes don't move it.
	if err := b.storage.CreateIntent(userID, wallet, plan.ID, plan.PriceLamports); err != nil {
		b.log.Error("create intent", "error", err, "user_id", userID)
		b.editMessage(ctx, cb.Message, "❌ Could not start the purchase, try again.", MainKeyboard())
		return
	}

	b.log.Info("intent created",
		"user_id", userID,
		"plan", plan.ID,
		"expected_lamports", plan.PriceLamports,
	)

	text := fmt.Sprintf(
		"📄 <b>%s plan</b> — %s SOL\n\n"+
			"Send <b>%s SOL</b> from your wallet\n<code>%s</code>\n\n"+
			"to\n<code>%s</code>\n\n"+
			"Small wallet-fee slippage (up to %s SOL) is accepted.\n"+
			"Your invite link arrives automatically once the payment lands.",
		plan.Label, plans.FormatSOL(plan.PriceLamports),
		plans.FormatSOL(plan.PriceLamports),
		wallet,
		b.cfg.ReceivingWallet,
		plans.FormatSOL(b.cfg.ToleranceLamports),
	)

	b.editMessage(ctx, cb.Message, text, BackKeyboard())
}

func (b *Bot) showStatus(ctx context.Context, cb *models.CallbackQuery) {
	b.editMessage(ctx, cb.Message, b.statusText(cb.From.ID), MainKeyboard())
}

func (b *Bot) statusText(userID int64) string {
	account, err := b.storage.GetAccount(userID)
	if err == storage.ErrNotFound {
		return "👤 <b>Your status</b>\n\nNo wallet registered yet."
	}
	if err != nil {
		b.log.Error("get account", "error", err, "user_id", userID)
		return "❌ Could not load your status, try again."
	}

	wallet := "not registered"
	if account.WalletAddress != "" {
		wallet = solana.ShortAddr(account.WalletAddress, 4)
	}

	var access string
	switch account.Status() {
	case storage.StatusLifetime:
		access = fmt.Sprintf("<b>%s</b> — lifetime", account.Plan)
	case storage.StatusActiveUntil:
		access = fmt.Sprintf("<b>%s</b> — until %s",
			account.Plan, account.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	default:
		access = "none"
	}

	text := fmt.Sprintf(
		"👤 <b>Your status</b>\n\nWallet: <code>%s</code>\nAccess: %s",
		wallet, access,
	)

	if p, err := b.storage.LastPayment(userID); err == nil {
		text += fmt.Sprintf("\nLast payment: %s SOL on %s",
			plans.FormatSOL(p.Lamports), p.ReceivedAt.UTC().Format("2006-01-02"))
	} else if err != storage.ErrNotFound {
		b.log.Error("last payment", "error", err, "user_id", userID)
	}

	return text
}

// --- Helpers ---

func displayName(u *models.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "friend"
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}
