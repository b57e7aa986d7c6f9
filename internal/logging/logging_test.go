package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New("warn", "json", false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New("warn", "console", true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel), "verbose wins")
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("chatty", "json", false)
	assert.ErrorContains(t, err, "invalid log level")

	_, err = New("info", "xml", false)
	assert.ErrorContains(t, err, "unknown log format")
}
