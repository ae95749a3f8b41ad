package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New("debug", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("WARN", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", false)
	assert.Error(t, err)
}

func TestRaw_Truncates(t *testing.T) {
	f := Raw([]byte(strings.Repeat("x", MaxRawPayload+10)))
	assert.True(t, strings.HasSuffix(f.String, "...(truncated)"))
	assert.Len(t, f.String, MaxRawPayload+len("...(truncated)"))

	assert.Equal(t, "{}", Raw([]byte("{}")).String)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
