package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")

	logger, err := NewLoggerWithFile(path, "debug")
	require.NoError(t, err)
	logger.Sugar().Infow("block_committed", "height", 7)
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"block_committed"`)
	assert.Contains(t, string(data), `"height":7`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger("loud")
	assert.Error(t, err)

	_, err = NewLoggerWithFile(filepath.Join(t.TempDir(), "x.log"), "loud")
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	c := FixedClock{T: at}
	assert.Equal(t, at, c.Now())

	select {
	case got := <-c.After(time.Hour):
		assert.Equal(t, at, got)
	default:
		t.Fatal("After should fire immediately")
	}
}
