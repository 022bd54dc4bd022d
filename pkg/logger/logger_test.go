package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { globalLogger = nil })

	ctx := WithTraceID(context.Background(), "t-1")
	ctx = WithRequestID(ctx, "r-1")
	ctx = WithPeer(ctx, "peer.example.org")
	Info(ctx, "message processed", "code", "GT_NET_PING")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "t-1", line["trace_id"])
	assert.Equal(t, "r-1", line["request_id"])
	assert.Equal(t, "peer.example.org", line["gtnet_peer"])
	assert.Equal(t, "GT_NET_PING", line["code"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "warn", Format: "text"}, &buf)
	t.Cleanup(func() { globalLogger = nil })

	Info(context.Background(), "hidden")
	assert.Empty(t, buf.String())
	Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}
