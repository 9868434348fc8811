package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "json", &buf).WithComponent("issuer_service").WithRequestID("req-1")

	log.AuditLog("ops", "leaf.issue", "leaf", "leaf_1", map[string]interface{}{"alias": "alice"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "issuer_service", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "ops", entry["actor"])
	assert.Equal(t, "leaf.issue", entry["action"])
	assert.Equal(t, "audit log", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", "json", &buf)

	log.HTTPRequest("GET", "/health", 200, time.Millisecond, "127.0.0.1")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), `"kept"`)

	buf.Reset()
	NewWithWriter("bogus", "json", &buf).Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}
