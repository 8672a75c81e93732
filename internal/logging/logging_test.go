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

func TestWarnWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})

	Warn(Fields{Service: "api", OrderID: "o-1", Step: "queue.enqueue"}, errors.New("redis down"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	assert.Equal(t, "warn", got["level"])
	assert.Equal(t, "o-1", got["order_id"])
	assert.Equal(t, "redis down", got["err"])
	assert.NotEmpty(t, got["ts"])
	assert.NotContains(t, got, "user_id")
}
