package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *testSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *testSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestGetLevelFromEnv(t *testing.T) {
	originalValue := os.Getenv(EnvLogLevel)
	defer os.Setenv(EnvLogLevel, originalValue)

	tests := []struct {
		name     string
		envValue string
		expected LogLevel
	}{
		{"trace level", "trace", LevelTrace},
		{"uppercase debug", "DEBUG", LevelDebug},
		{"warning alias", "warning", LevelWarn},
		{"error level", "error", LevelError},
		{"off", "off", LevelNone},
		{"empty string", "", LevelInfo},
		{"invalid value", "invalid", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv(EnvLogLevel, tt.envValue)
			assert.Equal(t, tt.expected, GetLevelFromEnv())
		})
	}
}

func TestConsoleLoggerSink(t *testing.T) {
	sink := &testSink{}
	l := NewConsoleLogger(LevelNone)
	l.SetSink(sink, LevelDebug)
	child := l.WithPrefix("[cache-manager]").With(map[string]interface{}{"layer": "parcels"})
	child.Trace("hidden")
	child.Info("stored %d entries", 3)

	out := sink.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO ] [cache-manager] stored 3 entries")
	assert.Contains(t, out, `{"layer":"parcels"}`)
	assert.True(t, l.IsLevelEnabled(LevelDebug))
	assert.False(t, l.IsLevelEnabled(LevelTrace))
}

func TestJSONLoggerWithSink(t *testing.T) {
	sink := &testSink{}
	l := NewJSONLoggerWithSink(sink, LevelInfo)
	l.WithPrefix("[index]").With(map[string]interface{}{"key": "abc"}).Warn("overlap query took %dms", 12)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(sink.String())), &parsed))
	assert.Equal(t, "WARNING", parsed["severity"])
	assert.Equal(t, "overlap query took 12ms", parsed["message"])
	assert.Equal(t, "index", parsed["component"])
	assert.Equal(t, "abc", parsed["metadata"].(map[string]interface{})["key"])
}

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(JSONLogEntry{Message: "m"}.String()), &parsed))
	assert.Equal(t, "INFO", parsed["severity"])
}

func TestTestLoggerSharedAcrossChildren(t *testing.T) {
	l := NewTestLogger()
	child := WithKV(l, "layer", "roads").(*TestLogger)
	child.Info("hello %s", "world")
	l.Error("boom")

	logs := l.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "hello world", logs[0].Formatted())
	assert.Equal(t, "roads", child.Metadata()["layer"])
	assert.Len(t, l.Find("ERROR", "boom"), 1)
	assert.Empty(t, l.Find("WARNING", "boom"))
}

func TestTestLoggerConcurrent(t *testing.T) {
	l := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Debug("entry")
		}()
	}
	wg.Wait()
	assert.Len(t, l.Logs(), 20)
}

func TestToZap(t *testing.T) {
	base := NewTestLogger()
	z := ToZap(base)
	z.Info("test message", zap.String("key", "value"))
	z.With(zap.Int("count", 2)).Warn("warning message")

	logs := base.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "INFO", logs[0].Severity)
	assert.Equal(t, "test message", logs[0].Formatted())
	assert.Equal(t, "WARNING", logs[1].Severity)
}

func TestFromZap(t *testing.T) {
	base := NewTestLogger()
	l := FromZap(ToZap(base)).With(map[string]interface{}{"layer": "parcels"})
	l.Info("cache %s created", "tile")
	assert.Len(t, base.Find("INFO", "cache tile created"), 1)
	assert.True(t, l.IsLevelEnabled(LevelError))

	stacked := FromZap(zap.NewNop()).Stack(base)
	stacked.Warn("to both")
	assert.Len(t, base.Find("WARNING", "to both"), 1)
}

func TestWithLevel(t *testing.T) {
	base := NewTestLogger()
	log := WithLevel(base, LevelWarn).With(map[string]interface{}{"component": "manager"})
	log.Debug("dropped %d", 1)
	log.Info("dropped %d", 2)
	log.Warn("kept %d", 3)
	log.WithPrefix("[x]").Error("kept %d", 4)

	assert.Empty(t, base.Find("DEBUG", "dropped"))
	assert.Empty(t, base.Find("INFO", "dropped"))
	assert.Len(t, base.Find("WARNING", "kept 3"), 1)
	assert.Len(t, base.Find("ERROR", "kept 4"), 1)
	assert.False(t, log.IsLevelEnabled(LevelInfo))
	assert.True(t, log.IsLevelEnabled(LevelError))

	debug := WithLevel(WithLevel(base, LevelError), LevelDebug)
	debug.Debug("reset")
	assert.Len(t, base.Find("DEBUG", "reset"), 1)
}
