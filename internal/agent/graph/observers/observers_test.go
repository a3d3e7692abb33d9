package observers

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestNewAllCallbacks(t *testing.T) {
	assert.NotNil(t, NewAllCallbacks())
}

func TestClip(t *testing.T) {
	t.Run("Should keep short text", func(t *testing.T) {
		assert.Equal(t, "hello", clip("hello", 10))
	})

	t.Run("Should cut on runes", func(t *testing.T) {
		assert.Equal(t, "안녕...", clip("안녕하세요", 2))
	})
}

func TestLastUserContent(t *testing.T) {
	msgs := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage(" first "),
		nil,
		schema.AssistantMessage("reply", nil),
		schema.UserMessage(" second "),
		schema.AssistantMessage("again", nil),
	}

	assert.Equal(t, "second", lastUserContent(msgs))
	assert.Empty(t, lastUserContent(nil))
}
