package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
		want   zapcore.Level
	}{
		{name: "json debug", level: "debug", format: "json", want: zapcore.DebugLevel},
		{name: "text warn", level: "warn", format: "text", want: zapcore.WarnLevel},
		{name: "invalid level falls back to info", level: "loud", format: "json", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := InitLogger(tt.level, tt.format)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want))
			assert.False(t, l.Core().Enabled(tt.want-1))
			assert.Same(t, l, GetLogger())
		})
	}
}

func TestGetLogger_Fallback(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, GetLogger())

	nop := zap.NewNop()
	SetLogger(nop)
	assert.Same(t, nop, GetLogger())
}
