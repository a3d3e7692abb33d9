// Package conversations serializes turns per session and owns loading and
// checkpointing of conversation state.
package conversations

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

type Manager struct {
	store model.SessionStore

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func NewManager(store model.SessionStore) *Manager {
	return &Manager{store: store, locks: make(map[string]*sessionLock)}
}

// NewSessionID returns a fresh session id for a new chat.
func NewSessionID() string {
	return uuid.NewString()
}

// Acquire waits until no other turn of the session runs. The returned
// release must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(sessionID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.unref(sessionID, l)
		})
	}, nil
}

func (m *Manager) unref(sessionID string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, sessionID)
	}
}

// Load returns the session state, a fresh state for unknown sessions, or a
// fresh state with reset=true when the stored one is corrupt.
func (m *Manager) Load(ctx context.Context, sessionID string) (state *model.ConversationState, reset bool, err error) {
	state, found, err := m.store.Load(ctx, sessionID)
	if err != nil {
		if errx.IsKind(err, errx.KindStateCorruption) {
			metrics.SessionResetsTotal.Inc()
			logx.Error().
				Err(err).
				Str("conversation_id", sessionID).
				Msg("session state is corrupt, starting a fresh session")
			return model.NewConversationState(sessionID), true, nil
		}
		return nil, false, err
	}
	if !found {
		return model.NewConversationState(sessionID), false, nil
	}
	return state, false, nil
}

func (m *Manager) Save(ctx context.Context, state *model.ConversationState) error {
	if state == nil {
		return errors.New("nil session state")
	}
	return m.store.Save(ctx, state)
}

// Reset forgets a session.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	release, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return m.store.Delete(ctx, sessionID)
}

// active reports how many sessions hold or wait for a lock.
func (m *Manager) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
