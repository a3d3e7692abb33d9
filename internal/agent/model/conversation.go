package model

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one persisted message. ID stays stable so summarization can prune by id.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// ConversationState is the checkpointed state of a session.
// Summary is replaced wholesale; Messages are append-only except for Prune.
type ConversationState struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	Messages  []Turn    `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversationState(sessionID string) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		Messages:  []Turn{},
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *ConversationState) Append(role Role, content string) Turn {
	t := NewTurn(role, content)
	s.Messages = append(s.Messages, t)
	s.UpdatedAt = t.CreatedAt
	return t
}

// Prune removes the turns whose ids are listed and returns how many were removed.
func (s *ConversationState) Prune(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := s.Messages[:0]
	for _, m := range s.Messages {
		if _, ok := drop[m.ID]; ok {
			continue
		}
		kept = append(kept, m)
	}
	removed := len(s.Messages) - len(kept)
	s.Messages = kept
	return removed
}

// ToSchemaMessages converts the turns for a chat model call.
func (s *ConversationState) ToSchemaMessages() []*schema.Message {
	return TurnsToMessages(s.Messages)
}

func TurnsToMessages(turns []Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		switch t.Role {
		case RoleUser:
			out = append(out, schema.UserMessage(t.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Content, nil))
		}
	}
	return out
}

// SessionStore persists ConversationState between turns (last writer wins).
type SessionStore interface {
	// Load returns the stored state; found is false when the session does not exist.
	Load(ctx context.Context, sessionID string) (state *ConversationState, found bool, err error)

	Save(ctx context.Context, state *ConversationState) error

	Delete(ctx context.Context, sessionID string) error
}
