package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solgate/paywall-bot/internal/storage"
)

const testGroupID = int64(-100123456)

type fakeGateway struct {
	removed   []int64
	removeErr map[int64]error // per-user failures
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{removeErr: make(map[int64]error)}
}

func (f *fakeGateway) RemoveMember(ctx context.Context, groupID, userID int64) error {
	if err := f.removeErr[userID]; err != nil {
		return err
	}
	f.removed = append(f.removed, userID)
	return nil
}

type fakeNotifier struct {
	messages map[int64][]string
	sendErr  error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: make(map[int64][]string)}
}

func (f *fakeNotifier) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages[userID] = append(f.messages[userID], text)
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Storage, *fakeGateway, *fakeNotifier) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gateway := newFakeGateway()
	notifier := newFakeNotifier()
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	s := New(store, gateway, notifier, testGroupID, 24*time.Hour, 24*time.Hour, log)

	return s, store, gateway, notifier
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestSweep_RemindsOncePerPeriod(t *testing.T) {
	s, store, _, notifier := newTestScheduler(t)

	require.NoError(t, store.Grant(1, "month", timePtr(time.Now().Add(23*time.Hour))))

	s.Sweep(context.Background())
	s.Sweep(context.Background())

	require.Len(t, notifier.messages[1], 1, "reminded exactly once")
	assert.Contains(t, notifier.messages[1][0], "expires")
}

func TestSweep_ReminderFailureStillMarked(t *testing.T) {
	s, store, _, notifier := newTestScheduler(t)

	require.NoError(t, store.Grant(1, "month", timePtr(time.Now().Add(23*time.Hour))))
	notifier.sendErr = errors.New("user blocked the bot")

	s.Sweep(context.Background())

	// The failed send is not retried next tick: no reminder storms.
	notifier.sendErr = nil
	s.Sweep(context.Background())
	assert.Empty(t, notifier.messages[1])
}

func TestSweep_RevokesExpired(t *testing.T) {
	s, store, gateway, _ := newTestScheduler(t)

	require.NoError(t, store.UpsertWallet(1, "alice", "WalletA"))
	require.NoError(t, store.Grant(1, "week", timePtr(time.Now().Add(-time.Second))))

	s.Sweep(context.Background())

	assert.Equal(t, []int64{1}, gateway.removed)

	account, err := store.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, "", account.Plan)
	assert.Nil(t, account.ExpiresAt)

	// Nothing left to do on the next tick
	s.Sweep(context.Background())
	assert.Equal(t, []int64{1}, gateway.removed)
}

func TestSweep_GatewayFailureKeepsStoreState(t *testing.T) {
	s, store, gateway, _ := newTestScheduler(t)

	require.NoError(t, store.Grant(1, "week", timePtr(time.Now().Add(-time.Second))))
	gateway.removeErr[1] = errors.New("telegram unavailable")

	s.Sweep(context.Background())

	// Store not cleared while the user may still be in the group;
	// the next sweep retries.
	account, err := store.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, "week", account.Plan)

	gateway.removeErr = map[int64]error{}
	s.Sweep(context.Background())

	account, err = store.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, "", account.Plan)
}

func TestSweep_PerUserFailureIsolation(t *testing.T) {
	s, store, gateway, _ := newTestScheduler(t)

	require.NoError(t, store.Grant(1, "week", timePtr(time.Now().Add(-time.Second))))
	require.NoError(t, store.Grant(2, "week", timePtr(time.Now().Add(-time.Second))))
	gateway.removeErr[1] = errors.New("already gone")

	s.Sweep(context.Background())

	// User 2 is swept despite user 1 failing
	assert.Equal(t, []int64{2}, gateway.removed)

	account, err := store.GetAccount(2)
	require.NoError(t, err)
	assert.Equal(t, "", account.Plan)
}

func TestSweep_LifetimeNeverRevoked(t *testing.T) {
	s, store, gateway, notifier := newTestScheduler(t)

	require.NoError(t, store.Grant(1, "life", nil))

	s.now = func() time.Time { return time.Now().Add(100 * 365 * 24 * time.Hour) }
	s.Sweep(context.Background())

	assert.Empty(t, gateway.removed)
	assert.Empty(t, notifier.messages)

	account, err := store.GetAccount(1)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusLifetime, account.Status())
}

func TestSweep_DropsStaleIntents(t *testing.T) {
	s, store, _, _ := newTestScheduler(t)

	require.NoError(t, store.CreateIntent(1, "WalletA", "week", 500_000_000))

	// Fresh intents survive
	s.Sweep(context.Background())
	_, err := store.GetIntent(1)
	assert.NoError(t, err)

	// Intents older than the TTL are dropped
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	s.Sweep(context.Background())
	_, err = store.GetIntent(1)
	assert.Equal(t, storage.ErrNotFound, err)
}

func TestSweep_IntentTTLDisabled(t *testing.T) {
	s, store, _, _ := newTestScheduler(t)
	s.intentTTL = 0

	require.NoError(t, store.CreateIntent(1, "WalletA", "week", 500_000_000))

	s.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }
	s.Sweep(context.Background())

	_, err := store.GetIntent(1)
	assert.NoError(t, err, "no TTL means intents live until overwritten or matched")
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}
