package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerRespectsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, DEFAULT, true)
	log.Info("job finished", "job", "j1")
	log.V(VERBOSE).Info("hidden")
	log.Error(errors.New("boom"), "job failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "job finished", entry["msg"])
	assert.Equal(t, "j1", entry["job"])
	assert.Contains(t, lines[1], "boom")
}

func TestFromContextFallsBack(t *testing.T) {
	var buf bytes.Buffer
	fallback := New(&buf, DEFAULT, false)
	got := FromContext(context.Background(), fallback)
	got.Info("x")
	assert.Contains(t, buf.String(), "x")

	var other bytes.Buffer
	ctx := logr.NewContext(context.Background(), New(&other, DEFAULT, false))
	FromContext(ctx, fallback).Info("y")
	assert.Contains(t, other.String(), "y")
}
