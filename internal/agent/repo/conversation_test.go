package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

func newStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessionStore(rdb, ttl), mr
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should round-trip a checkpoint", func(t *testing.T) {
		store, _ := newStore(t, time.Hour)
		st := model.NewConversationState("s1")
		st.Summary = "요약"
		st.Append(model.RoleUser, "What is the weather today?")
		st.Append(model.RoleAssistant, "Sunny.")

		require.NoError(t, store.Save(ctx, st))
		got, found, err := store.Load(ctx, "s1")

		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, st.Summary, got.Summary)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, st.Messages[0].ID, got.Messages[0].ID)
		assert.Equal(t, st.Messages[1].Content, got.Messages[1].Content)
		assert.True(t, st.UpdatedAt.Equal(got.UpdatedAt))
	})

	t.Run("Should report a missing session", func(t *testing.T) {
		store, _ := newStore(t, time.Hour)

		got, found, err := store.Load(ctx, "nope")

		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("Should apply the ttl", func(t *testing.T) {
		store, mr := newStore(t, time.Minute)
		require.NoError(t, store.Save(ctx, model.NewConversationState("s1")))

		assert.Equal(t, time.Minute, mr.TTL("conversation:s1:state"))
		mr.FastForward(2 * time.Minute)

		_, found, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Should flag undecodable state as corruption", func(t *testing.T) {
		store, mr := newStore(t, time.Hour)
		require.NoError(t, mr.Set("conversation:s1:state", "{not json"))

		_, found, err := store.Load(ctx, "s1")

		assert.True(t, found)
		assert.True(t, errx.IsKind(err, errx.KindStateCorruption))
	})

	t.Run("Should flag structurally invalid state as corruption", func(t *testing.T) {
		store, mr := newStore(t, time.Hour)
		require.NoError(t, mr.Set("conversation:s1:state", `{"session_id":"s1","messages":[{"id":"","role":"user"}]}`))

		_, _, err := store.Load(ctx, "s1")

		assert.True(t, errx.IsKind(err, errx.KindStateCorruption))
	})

	t.Run("Should delete a session", func(t *testing.T) {
		store, mr := newStore(t, time.Hour)
		require.NoError(t, store.Save(ctx, model.NewConversationState("s1")))

		require.NoError(t, store.Delete(ctx, "s1"))

		assert.False(t, mr.Exists("conversation:s1:state"))
	})

	t.Run("Should wrap connection failures as external service errors", func(t *testing.T) {
		store, mr := newStore(t, time.Hour)
		mr.Close()

		_, _, err := store.Load(ctx, "s1")

		assert.True(t, errx.IsKind(err, errx.KindExternalService))
	})
}
