/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ssgreg/logf"
	"github.com/stretchr/testify/require"
)

func decodeJSONLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var res []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		res = append(res, entry)
	}
	return res
}

func TestNewLoggerWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := NewLoggerWithWriter(&Config{Format: FormatJSON, Level: LevelInfo}, &buf)
	logger.With(String("client", "10.0.0.1")).Warn("lock failed", Int("config_id", 2))
	logger.Error("inconsistent counter", Error(errors.New("no slot for key")))
	closeFn()

	entries := decodeJSONLines(t, buf.Bytes())
	require.Len(t, entries, 2)

	require.Equal(t, "warn", entries[0]["level"])
	require.Equal(t, "lock failed", entries[0]["msg"])
	require.Equal(t, "10.0.0.1", entries[0]["client"])
	require.EqualValues(t, 2, entries[0]["config_id"])
	require.EqualValues(t, os.Getpid(), entries[0]["pid"])
	require.Contains(t, entries[0], "time")

	require.Equal(t, "error", entries[1]["level"])
	require.Equal(t, "no slot for key", entries[1]["error"])
}

func TestNewLoggerWithWriter_Level(t *testing.T) {
	tests := []struct {
		level Level
		want  []string
	}{
		{level: LevelDebug, want: []string{"d", "i", "w", "e"}},
		{level: LevelInfo, want: []string{"i", "w", "e"}},
		{level: LevelWarn, want: []string{"w", "e"}},
		{level: LevelError, want: []string{"e"}},
		{level: "", want: []string{"i", "w", "e"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger, closeFn := NewLoggerWithWriter(&Config{Format: FormatJSON, Level: tt.level}, &buf)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")
			closeFn()

			var got []string
			for _, entry := range decodeJSONLines(t, buf.Bytes()) {
				got = append(got, entry["msg"].(string))
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewLoggerWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := NewLoggerWithWriter(&Config{Format: FormatText, Level: LevelInfo, NoColor: true}, &buf)
	logger.Error("request rejected", Error(errors.New("too many requests")))
	closeFn()

	out := buf.String()
	require.Contains(t, out, "|ERRO|")
	require.Contains(t, out, " request rejected ")
	require.Contains(t, out, `error="too many requests"`)
	require.Contains(t, out, fmt.Sprintf("pid=%d", os.Getpid()))
}

func TestNewLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Output = OutputFile
	cfg.File.Path = filepath.Join(dir, "vlimit-"+PlaceholderPID+".log")

	logger, closeFn := NewLogger(cfg)
	logger.Info("written to file", String("client", "10.0.0.1"))
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("vlimit-%d.log", os.Getpid())))
	require.NoError(t, err)
	entries := decodeJSONLines(t, data)
	require.Len(t, entries, 1)
	require.Equal(t, "written to file", entries[0]["msg"])
	require.Equal(t, "10.0.0.1", entries[0]["client"])
}

func TestExpandPath(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	require.Equal(t,
		fmt.Sprintf("/var/log/vlimit-%d-202403051407.log", os.Getpid()),
		expandPath("/var/log/vlimit-{{pid}}-{{starttime}}.log", start))
	require.Equal(t, "/var/log/vlimit.log", expandPath("/var/log/vlimit.log", start))
}

func TestLevelOf(t *testing.T) {
	for lvl := range logfLevels {
		require.Equal(t, lvl, LevelOf(lvl.logfLevel()))
	}
	require.Equal(t, logf.LevelInfo, Level("verbose").logfLevel())
}

func TestNewDisabledLogger(t *testing.T) {
	require.NotPanics(t, func() {
		NewDisabledLogger().With(Int("n", 1)).Error("nothing")
	})
}
