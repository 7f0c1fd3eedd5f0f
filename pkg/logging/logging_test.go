package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	flags, out := log.Flags(), log.Writer()
	log.SetFlags(0)
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetFlags(flags)
		log.SetOutput(out)
	})
	return &buf
}

func TestLogWritesJSONLine(t *testing.T) {
	buf := captureLog(t)
	Log(Fields{Service: "checkout", OrderID: "o-1", Step: "reserve_stock", Status: "failed", Error: Err(errors.New("boom")), DurationMS: 12})

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "checkout", got["service"])
	assert.Equal(t, "o-1", got["order_id"])
	assert.Equal(t, "reserve_stock", got["step"])
	assert.Equal(t, "boom", got["error"])
	assert.Equal(t, float64(12), got["duration_ms"])
	assert.NotEmpty(t, got["timestamp"])
	_, hasEvent := got["event_id"]
	assert.False(t, hasEvent, "empty fields are omitted")
}

func TestErrNil(t *testing.T) {
	assert.Equal(t, "", Err(nil))
}
