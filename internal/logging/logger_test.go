package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{"", INFO},
		{" warn ", WARN},
		{"warning", WARN},
		{"Error", ERROR},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestConsoleLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, WARN)

	l.Info("скрыто")
	l.Warn("видно %d", 1)
	l.Error("тоже видно")

	out := buf.String()
	assert.NotContains(t, out, "скрыто")
	assert.Contains(t, out, "[WARN] видно 1")
	assert.Contains(t, out, "[ERROR] тоже видно")
}

func TestDefaultLoggerSwap(t *testing.T) {
	var buf bytes.Buffer
	prev := current()
	SetDefaultLogger(NewConsoleLogger(&buf, DEBUG))
	t.Cleanup(func() { SetDefaultLogger(prev) })

	Debug("чанк %d", 7)
	Trace("не попадёт")

	assert.Contains(t, buf.String(), "[DEBUG] чанк 7")
	assert.NotContains(t, buf.String(), "не попадёт")
}

func TestFileLoggerWritesAllLevels(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLoggerInDir(dir, "scheduler")
	require.NoError(t, err)

	l.Trace("подробно")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "повторное закрытие безопасно")

	files, err := filepath.Glob(filepath.Join(dir, "scheduler_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "[TRACE] [scheduler] подробно"))
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))

	dump := HexDump(make([]byte, 300))
	// 256 байт = 16 строк по 16 байт
	assert.Equal(t, 16, strings.Count(dump, "\n"))
}

func TestComponentUsesDefaultUntilFilesEnabled(t *testing.T) {
	prev := LogDir
	LogDir = t.TempDir()
	defer func() { LogDir = prev }()

	lm := GetLoggerManager()
	defer lm.CloseAll()

	assert.Same(t, current(), Component("engine"))
	assert.Empty(t, lm.ListComponents())

	lm.EnableFiles(WARN, DEBUG)
	a := Component("engine")
	assert.NotSame(t, current(), a)
	b, err := lm.GetLogger("engine")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"engine"}, lm.ListComponents())

	a.Trace("не попадёт")
	a.Debug("задача готова")
	require.NoError(t, lm.SetLogLevel("engine", WARN, INFO))
	a.Debug("тоже не попадёт")
	assert.Error(t, lm.SetLogLevel("missing", WARN, INFO))

	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
	assert.False(t, lm.FilesEnabled())

	files, err := filepath.Glob(filepath.Join(LogDir, "engine_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "[DEBUG] [engine] задача готова")
	assert.NotContains(t, string(content), "не попадёт")
}

func TestSetDefaultLevelKeepsFileLevel(t *testing.T) {
	l, err := NewLoggerInDir(t.TempDir(), "worldd")
	require.NoError(t, err)
	defer l.Close()
	l.SetLevels(INFO, DEBUG)

	prev := current()
	SetDefaultLogger(l)
	defer SetDefaultLogger(prev)

	SetDefaultLevel(WARN)
	assert.Equal(t, WARN, l.minConsoleLevel)
	assert.Equal(t, DEBUG, l.minFileLevel)
}
