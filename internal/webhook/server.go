package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/solgate/paywall-bot/internal/reconcile"
	"github.com/solgate/paywall-bot/internal/solana"
)

// SecretHeader carries the shared webhook secret on manually configured
// feeds. Helius delivers the registered authHeader value in Authorization
// instead, so the server accepts either.
const SecretHeader = "X-Webhook-Secret"

// TransferHandler receives each inbound transfer that survived filtering.
type TransferHandler func(ctx context.Context, tr reconcile.Transfer)

// Server receives transfer-feed webhooks, filters them down to inbound
// payments for the service wallet, and hands them to the handler.
type Server struct {
	receivingWallet string
	secret          string
	handler         TransferHandler
	log             *slog.Logger

	server *http.Server
}

// NewServer creates a new webhook server. An empty secret disables the
// shared-secret check; that is an insecure default for local testing only.
func NewServer(receivingWallet, secret string, handler TransferHandler, log *slog.Logger) *Server {
	return &Server{
		receivingWallet: receivingWallet,
		secret:          secret,
		handler:         handler,
		log:             log,
	}
}

// Start starts the webhook server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/webhook/", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting webhook server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		s.log.Warn("webhook delivery with bad secret", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var batch []solana.EnhancedTransaction
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.log.Warn("invalid webhook payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	transfers := s.extractTransfers(batch)

	s.log.Debug("webhook received",
		"transactions", len(batch),
		"inbound_transfers", len(transfers),
	)

	// Acknowledge promptly; reconciliation happens off the request path.
	go s.dispatch(context.Background(), transfers)

	w.WriteHeader(http.StatusOK)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	for _, header := range []string{SecretHeader, "Authorization"} {
		got := r.Header.Get(header)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1 {
			return true
		}
	}
	return false
}

// extractTransfers keeps only transfers addressed to the service wallet
// and coerces their amounts. A malformed event is skipped, never fatal
// for the rest of the batch.
func (s *Server) extractTransfers(batch []solana.EnhancedTransaction) []reconcile.Transfer {
	var transfers []reconcile.Transfer

	for _, tx := range batch {
		for _, nt := range tx.NativeTransfers {
			if !strings.EqualFold(nt.ToUserAccount, s.receivingWallet) {
				continue
			}
			if nt.FromUserAccount == "" {
				s.log.Warn("transfer without sender, skipping", "signature", tx.Signature)
				continue
			}

			lamports, ok := nt.Amount.Int64()
			if !ok || lamports <= 0 {
				s.log.Warn("malformed transfer amount, skipping", "signature", tx.Signature)
				continue
			}

			transfers = append(transfers, reconcile.Transfer{
				Sender:    nt.FromUserAccount,
				Lamports:  lamports,
				Signature: tx.Signature,
			})
		}
	}

	return transfers
}

func (s *Server) dispatch(ctx context.Context, transfers []reconcile.Transfer) {
	for _, tr := range transfers {
		s.handler(ctx, tr)
	}
}
