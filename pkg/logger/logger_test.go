package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
}

func TestConfigureJSONWithComponent(t *testing.T) {
	prev := Base()
	defer func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}()

	var out bytes.Buffer
	Configure(Config{Level: "debug", JSON: true, Output: &out})

	WithComponent("processor").WithField("session_id", "abc").Debug("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "processor", entry["component"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "started", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().WithField("k", "v").Error("ignored")
	})
}
