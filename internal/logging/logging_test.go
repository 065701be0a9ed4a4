package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"verbose", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSetup_TeesJSONToFile(t *testing.T) {
	restoreLogger(t)
	file := filepath.Join(t.TempDir(), "logs", "har.log")
	var console bytes.Buffer

	closer, err := setup("info", file, &console)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Str("version", "v1").Msg("Model snapshot loaded")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "Model snapshot loaded")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "v1", entry["version"])
	assert.Equal(t, "Model snapshot loaded", entry["message"])
}

func TestSetup_RejectsBadLevel(t *testing.T) {
	restoreLogger(t)
	_, err := Setup("loud", "")
	assert.Error(t, err)
}
