package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// RedisSessionStore checkpoints each session as one JSON document.
// Writes replace the whole document, so the last writer wins.
type RedisSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s:state", sessionID)
}

func (r *RedisSessionStore) Load(ctx context.Context, sessionID string) (*model.ConversationState, bool, error) {
	key := r.sessionKey(sessionID)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session state from redis")
		return nil, false, errx.WrapRedis(err)
	}

	var state model.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		logx.Error().Err(err).Str("conversation_id", sessionID).Msg("failed to unmarshal session state")
		return nil, true, errx.StateCorruption(sessionID, fmt.Errorf("unmarshal session state: %w", err))
	}
	if err := validate(sessionID, &state); err != nil {
		logx.Error().Err(err).Str("conversation_id", sessionID).Msg("stored session state is invalid")
		return nil, true, errx.StateCorruption(sessionID, err)
	}
	if state.Messages == nil {
		state.Messages = []model.Turn{}
	}
	return &state, true, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, state *model.ConversationState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("session state without id")
	}
	b, err := json.Marshal(state)
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", state.SessionID).Msg("failed to marshal session state")
		return fmt.Errorf("marshal session state: %w", err)
	}

	key := r.sessionKey(state.SessionID)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save session state to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	key := r.sessionKey(sessionID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete session state from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func validate(sessionID string, state *model.ConversationState) error {
	if state.SessionID != sessionID {
		return fmt.Errorf("stored session id %q does not match %q", state.SessionID, sessionID)
	}
	for i, t := range state.Messages {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("message %d has no id", i)
		}
		if t.Role != model.RoleUser && t.Role != model.RoleAssistant {
			return fmt.Errorf("message %d has unknown role %q", i, t.Role)
		}
	}
	return nil
}

var _ model.SessionStore = (*RedisSessionStore)(nil)
