package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solgate/paywall-bot/internal/reconcile"
)

const (
	receivingWallet = "ServiceWallet11111111111111111111111111111"
	testSecret      = "hunter2"
)

type captureHandler struct {
	mu        sync.Mutex
	transfers []reconcile.Transfer
	received  chan struct{}
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{received: make(chan struct{}, 16)}
}

func (c *captureHandler) handle(ctx context.Context, tr reconcile.Transfer) {
	c.mu.Lock()
	c.transfers = append(c.transfers, tr)
	c.mu.Unlock()
	c.received <- struct{}{}
}

func (c *captureHandler) wait(t *testing.T, n int) []reconcile.Transfer {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.received:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transfer %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]reconcile.Transfer(nil), c.transfers...)
}

func (c *captureHandler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

func newTestServer(t *testing.T, secret string) (*Server, *captureHandler) {
	t.Helper()

	handler := newCaptureHandler()
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	s := NewServer(receivingWallet, secret, handler.handle, log)

	return s, handler
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func post(s *Server, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	w := httptest.NewRecorder()
	s.handleWebhook(w, req)
	return w
}

func TestHandleWebhook_DeliversInboundTransfer(t *testing.T) {
	s, handler := newTestServer(t, testSecret)

	body := `[{
		"signature": "sig1",
		"type": "TRANSFER",
		"nativeTransfers": [
			{"fromUserAccount": "Payer", "toUserAccount": "` + receivingWallet + `", "amount": 970000000}
		]
	}]`

	w := post(s, body, testSecret)
	assert.Equal(t, http.StatusOK, w.Code)

	transfers := handler.wait(t, 1)
	require.Len(t, transfers, 1)
	assert.Equal(t, "Payer", transfers[0].Sender)
	assert.Equal(t, int64(970000000), transfers[0].Lamports)
	assert.Equal(t, "sig1", transfers[0].Signature)
}

func TestHandleWebhook_BadSecretRejected(t *testing.T) {
	s, handler := newTestServer(t, testSecret)

	body := `[{"signature": "sig1", "nativeTransfers": [
		{"fromUserAccount": "Payer", "toUserAccount": "` + receivingWallet + `", "amount": 1000000000}
	]}]`

	w := post(s, body, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(s, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, handler.count(), "no processing on rejected deliveries")
}

func TestHandleWebhook_AuthorizationHeaderAccepted(t *testing.T) {
	// Self-registered feeds deliver the secret in Authorization, not in
	// the manual secret header.
	s, handler := newTestServer(t, testSecret)

	body := `[{"signature": "sig1", "nativeTransfers": [
		{"fromUserAccount": "Payer", "toUserAccount": "` + receivingWallet + `", "amount": 1000000000}
	]}]`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Authorization", testSecret)
	w := httptest.NewRecorder()
	s.handleWebhook(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	handler.wait(t, 1)

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Authorization", "wrong")
	w = httptest.NewRecorder()
	s.handleWebhook(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleWebhook_EmptySecretDisablesCheck(t *testing.T) {
	s, handler := newTestServer(t, "")

	body := `[{"signature": "sig1", "nativeTransfers": [
		{"fromUserAccount": "Payer", "toUserAccount": "` + receivingWallet + `", "amount": 1000000000}
	]}]`

	w := post(s, body, "")
	assert.Equal(t, http.StatusOK, w.Code)
	handler.wait(t, 1)
}

func TestHandleWebhook_FiltersDestination(t *testing.T) {
	s, handler := newTestServer(t, testSecret)

	// Case-insensitive match on the receiving wallet; other destinations dropped.
	body := `[{
		"signature": "sig1",
		"nativeTransfers": [
			{"fromUserAccount": "Payer1", "toUserAccount": "SomeOtherWallet", "amount": 1000000000},
			{"fromUserAccount": "Payer2", "toUserAccount": "` + strings.ToLower(receivingWallet) + `", "amount": 2000000000}
		]
	}]`

	w := post(s, body, testSecret)
	assert.Equal(t, http.StatusOK, w.Code)

	transfers := handler.wait(t, 1)
	require.Len(t, transfers, 1)
	assert.Equal(t, "Payer2", transfers[0].Sender)
}

func TestHandleWebhook_MalformedAmountSkipped(t *testing.T) {
	s, handler := newTestServer(t, testSecret)

	// The bad event is skipped; the rest of the batch survives.
	body := `[{
		"signature": "sig1",
		"nativeTransfers": [
			{"fromUserAccount": "Payer1", "toUserAccount": "` + receivingWallet + `", "amount": "not-a-number"},
			{"fromUserAccount": "Payer2", "toUserAccount": "` + receivingWallet + `", "amount": "1000000000"}
		]
	}]`

	w := post(s, body, testSecret)
	assert.Equal(t, http.StatusOK, w.Code)

	transfers := handler.wait(t, 1)
	require.Len(t, transfers, 1)
	assert.Equal(t, "Payer2", transfers[0].Sender)
	assert.Equal(t, int64(1000000000), transfers[0].Lamports)
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	s, _ := newTestServer(t, testSecret)

	w := post(s, `{"not": "an array"`, testSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	w := httptest.NewRecorder()
	s.handleWebhook(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleWebhook_BatchFanOut(t *testing.T) {
	s, handler := newTestServer(t, testSecret)

	body := `[
		{"signature": "a", "nativeTransfers": [{"fromUserAccount": "P1", "toUserAccount": "` + receivingWallet + `", "amount": 1}]},
		{"signature": "b", "nativeTransfers": [{"fromUserAccount": "P2", "toUserAccount": "` + receivingWallet + `", "amount": 2}]}
	]`

	w := post(s, body, testSecret)
	assert.Equal(t, http.StatusOK, w.Code)

	transfers := handler.wait(t, 2)
	assert.Len(t, transfers, 2)
}
