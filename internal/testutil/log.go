// Package testutil provides helpers shared by package tests.
package testutil

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

const (
	logLevelKey   = "level"
	logMessageKey = "msg"
	logTimeKey    = "ts"
)

// LogEntry is a decoded [zap.Logger] entry.
type LogEntry struct {
	Level   zapcore.Level
	Message string
	// Fields hold the structured context, nested objects are maps, integers
	// are [json.Number].
	Fields map[string]any
}

// LogBuffer collects JSON-encoded [zap.Logger] entries in memory.
type LogBuffer struct {
	t   testing.TB
	mtx sync.Mutex
	b   zaptest.Buffer
}

// NewBufferedLogger returns a logger writing entries of minLevel and above
// into the returned buffer.
func NewBufferedLogger(t testing.TB, minLevel zapcore.Level) (*zap.Logger, *LogBuffer) {
	lb := &LogBuffer{t: t}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.LevelKey = logLevelKey
	encCfg.MessageKey = logMessageKey
	encCfg.TimeKey = logTimeKey

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), lb, minLevel)
	return zap.New(core), lb
}

// Write implements zapcore.WriteSyncer.
func (x *LogBuffer) Write(p []byte) (int, error) {
	x.mtx.Lock()
	defer x.mtx.Unlock()
	return x.b.Write(p)
}

// Sync implements zapcore.WriteSyncer.
func (x *LogBuffer) Sync() error {
	x.mtx.Lock()
	defer x.mtx.Unlock()
	return x.b.Sync()
}

// Entries returns all entries written so far.
func (x *LogBuffer) Entries() []LogEntry {
	x.mtx.Lock()
	lines := x.b.Lines()
	x.mtx.Unlock()

	res := make([]LogEntry, len(lines))
	for i := range lines {
		res[i] = x.parse(i, lines[i])
	}
	return res
}

// AssertEmpty asserts that nothing was logged.
func (x *LogBuffer) AssertEmpty() {
	x.AssertEqual(nil)
}

// AssertSingle asserts that e is the only entry.
func (x *LogBuffer) AssertSingle(e LogEntry) {
	x.AssertEqual([]LogEntry{e})
}

// AssertEqual asserts that the log consists of es in order.
func (x *LogBuffer) AssertEqual(es []LogEntry) {
	got := x.Entries()
	require.Len(x.t, got, len(es))
	for i := range es {
		require.Equal(x.t, es[i], got[i], i)
	}
}

// AssertContains asserts that e was logged.
func (x *LogBuffer) AssertContains(e LogEntry) {
	require.Contains(x.t, x.Entries(), e)
}

// AssertMessage asserts that an entry with the given level and message was
// logged, regardless of its fields.
func (x *LogBuffer) AssertMessage(lvl zapcore.Level, msg string) {
	for _, e := range x.Entries() {
		if e.Level == lvl && e.Message == msg {
			return
		}
	}
	require.Failf(x.t, "message not logged", "%s %q", lvl, msg)
}

func (x *LogBuffer) parse(i int, line string) LogEntry {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var m map[string]any
	require.NoError(x.t, dec.Decode(&m), i)

	lvl, ok := m[logLevelKey].(string)
	require.True(x.t, ok, i)
	msg, ok := m[logMessageKey].(string)
	require.True(x.t, ok, i)

	var e LogEntry
	var err error
	e.Level, err = zapcore.ParseLevel(lvl)
	require.NoError(x.t, err, i)
	e.Message = msg

	delete(m, logTimeKey)
	delete(m, logLevelKey)
	delete(m, logMessageKey)
	e.Fields = m
	return e
}
