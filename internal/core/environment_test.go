package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironment(t *testing.T) {
	t.Run("Should accept full and short names", func(t *testing.T) {
		assert.Equal(t, Production, ParseEnvironment("production"))
		assert.Equal(t, Production, ParseEnvironment(" PROD "))
		assert.Equal(t, Staging, ParseEnvironment("stage"))
		assert.Equal(t, Testing, ParseEnvironment("test"))
	})

	t.Run("Should fall back to development", func(t *testing.T) {
		assert.Equal(t, Development, ParseEnvironment(""))
		assert.Equal(t, Development, ParseEnvironment("qa"))
	})
}

func TestEnvironmentModes(t *testing.T) {
	assert.Equal(t, "release", Production.ServerMode())
	assert.Equal(t, "test", Testing.ServerMode())
	assert.Equal(t, "debug", Development.ServerMode())

	assert.Equal(t, "info", Staging.DefaultLogLevel())
	assert.Equal(t, "warn", Testing.DefaultLogLevel())
	assert.Equal(t, "debug", Development.DefaultLogLevel())
	assert.True(t, Production.IsProduction())
}
