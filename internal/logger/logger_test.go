package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wallet.log")

	require.NoError(t, Init(path, "info"))
	defer Cleanup()

	Info("wallet synced")
	Error("broadcast failed")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "wallet synced")
	assert.Contains(t, string(raw), "level=error")
}

func TestRotateLogTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.log")

	require.NoError(t, Init(path, "debug"))
	defer Cleanup()
	Info("before rotation")

	require.NoError(t, RotateLog(path))
	Info("after rotation")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "before rotation")
	assert.Contains(t, string(raw), "after rotation")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("", "chatty"))
}
