package telegram

import "sync"

// StateManager tracks what free-form input the bot expects from each user.
type StateManager struct {
	mu     sync.RWMutex
	states map[int64]string
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]string),
	}
}

// Set sets a user's state
func (sm *StateManager) Set(userID int64, state string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.states[userID] = state
}

// Get returns a user's current state, or "" when idle
func (sm *StateManager) Get(userID int64) string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.states[userID]
}

// Clear removes a user's state
func (sm *StateManager) Clear(userID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.states, userID)
}

// State constants
const (
	StateWaitWallet = "wait_wallet"
)
