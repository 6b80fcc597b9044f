package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutOutputs(t *testing.T) {
	logger, err := New(Config{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose", Console: true})
	assert.Error(t, err)
}

func TestNewFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	logger.Info().Str("k", "v").Msg("written")
	logger.Debug().Msg("filtered out")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
	assert.NotContains(t, string(data), "filtered out")
}

func TestConsoleFallback(t *testing.T) {
	logger := Console("warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
