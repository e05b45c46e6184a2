package downloader

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBandwidthLimiter_ZeroIsUnlimited(t *testing.T) {
	bl := NewBandwidthLimiter(0, testLogger(t))
	assert.Nil(t, bl)
}

func TestBandwidthLimiter_WrapReaderNilPassesThrough(t *testing.T) {
	var bl *BandwidthLimiter
	src := bytes.NewBufferString("hello")

	got := bl.WrapReader(context.Background(), src)
	data, err := io.ReadAll(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBandwidthLimiter_WrapReaderLimitsButDoesNotCorruptData(t *testing.T) {
	bl := NewBandwidthLimiter(1_000_000, testLogger(t))
	require.NotNil(t, bl)

	payload := bytes.Repeat([]byte("x"), 4096)
	src := bytes.NewReader(payload)

	got := bl.WrapReader(context.Background(), src)
	data, err := io.ReadAll(got)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testLogWriter struct{ t *testing.T }

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
