package changelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macshift/pkg/models"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "changes.log"))
}

func TestAppendAndTail(t *testing.T) {
	l := testLog(t)

	first := models.ChangeLogEntry{
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Interface: "eth0",
		Previous:  "AA:BB:CC:DD:EE:FF",
		New:       "02:11:22:33:44:55",
		Success:   true,
	}
	second := models.ChangeLogEntry{
		Timestamp: first.Timestamp.Add(time.Minute),
		Interface: "eth0",
		Previous:  "02:11:22:33:44:55",
		New:       "06:22:33:44:55:66",
		Success:   false,
		Reason:    "verification-failed",
	}

	require.NoError(t, l.Append(first))
	require.NoError(t, l.Append(second))

	entries, err := l.Tail(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0])
	assert.Equal(t, second, entries[1])
}

func TestTailLimit(t *testing.T) {
	l := testLog(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(models.ChangeLogEntry{Interface: "eth0", Success: true}))
	}

	entries, err := l.Tail(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTailMissingFile(t *testing.T) {
	l := testLog(t)
	entries, err := l.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTailSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.log")
	l := New(path)
	require.NoError(t, l.Append(models.ChangeLogEntry{Interface: "eth0", Success: true}))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.Append(models.ChangeLogEntry{Interface: "eth0", Success: false}))

	entries, err := l.Tail(0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
