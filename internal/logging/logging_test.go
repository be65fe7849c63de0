package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept", "k", "v")
	line := decodeLine(t, &buf)
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestLogError_OopsAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "json", &buf)

	err := oops.Code("STORE_FAILED").With("session_id", "s1").Errorf("boom")
	LogError(log, "auth.verify.fail", err)

	line := decodeLine(t, &buf)
	assert.Equal(t, "auth.verify.fail", line["msg"])
	assert.Equal(t, "STORE_FAILED", line["code"])
	assert.Contains(t, line["error"], "boom")
}

func TestLogError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)

	LogError(log, "plain", errors.New("nope"), "channel", "widget")

	line := decodeLine(t, &buf)
	assert.Equal(t, "nope", line["error"])
	assert.Equal(t, "widget", line["channel"])
}
