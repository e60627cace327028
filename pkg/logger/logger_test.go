package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, true)
	SetLevel(WARN)
	t.Cleanup(func() {
		SetLevel(INFO)
		SetOutput(os.Stderr, false)
	})

	InfoC("relay", "dropped")
	WarnCF("relay", "kept", map[string]any{"peer": "p1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "relay", entry["component"])
	assert.Equal(t, "p1", entry["peer"])
	assert.Equal(t, "warn", entry["level"])
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "ERROR", ERROR.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
