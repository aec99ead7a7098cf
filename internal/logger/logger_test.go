package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"book_id", "b1",
		"auth_token", "abc.def.ghi",
		"COMPLETION_API_KEY", "sk-123",
		"dangling",
	})

	require.Equal(t, []interface{}{
		"book_id", "b1",
		"auth_token", "[REDACTED]",
		"COMPLETION_API_KEY", "[REDACTED]",
		"dangling",
	}, out)
}

func TestNewNop(t *testing.T) {
	log := NewNop().With("component", "test")
	require.NotPanics(t, func() {
		log.Info("hello", "key", "value")
		log.Sync()
	})
}
