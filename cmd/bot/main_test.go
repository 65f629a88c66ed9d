package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solgate/paywall-bot/internal/solana"
	"github.com/solgate/paywall-bot/internal/storage"
)

type fakeTransferSource struct {
	txs []solana.EnhancedTransaction
	err error
}

func (f *fakeTransferSource) GetAddressTransactions(ctx context.Context, address string, limit int) ([]solana.EnhancedTransaction, error) {
	return f.txs, f.err
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSeedRecentTransfers(t *testing.T) {
	const wallet = "DestWallet"

	store := newTestStorage(t)
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	source := &fakeTransferSource{txs: []solana.EnhancedTransaction{
		{Signature: "sig-old", NativeTransfers: []solana.NativeTransfer{
			{FromUserAccount: "PayerWallet", ToUserAccount: wallet, Amount: solana.NewLamports(1_000_000_000)},
		}},
		{Signature: "sig-out", NativeTransfers: []solana.NativeTransfer{
			{FromUserAccount: wallet, ToUserAccount: "ElseWallet", Amount: solana.NewLamports(1)},
		}},
	}}

	seedRecentTransfers(context.Background(), store, source, wallet, log)

	// A seeded signature can no longer credit a fresh intent.
	require.NoError(t, store.CreateIntent(1, "PayerWallet", "month", 1_000_000_000))
	granted, err := store.ConsumeIntentAndGrant(storage.Payment{
		UserID: 1, Signature: "sig-old", Lamports: 1_000_000_000, SenderAddress: "PayerWallet",
	}, "month", nil)
	require.NoError(t, err)
	assert.False(t, granted, "pre-existing transfer must not redeem a new intent")

	// Outbound transfers are not seeded.
	granted, err = store.ConsumeIntentAndGrant(storage.Payment{
		UserID: 1, Signature: "sig-out", Lamports: 1_000_000_000, SenderAddress: "PayerWallet",
	}, "month", nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestSeedRecentTransfers_SourceError(t *testing.T) {
	store := newTestStorage(t)
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	source := &fakeTransferSource{err: assert.AnError}
	seedRecentTransfers(context.Background(), store, source, "DestWallet", log)

	// Nothing seeded, nothing broken.
	require.NoError(t, store.CreateIntent(1, "PayerWallet", "month", 1_000_000_000))
	granted, err := store.ConsumeIntentAndGrant(storage.Payment{
		UserID: 1, Signature: "sig-live", Lamports: 1_000_000_000, SenderAddress: "PayerWallet",
	}, "month", nil)
	require.NoError(t, err)
	assert.True(t, granted)
}
