package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNew_DefaultsAndWith(t *testing.T) {
	l, err := New(Config{OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	scoped := l.With(String("component", "test"))
	require.NotNil(t, scoped)
	scoped.Info("hello", Int("n", 1))
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Error("ignored", Error(nil))
	assert.Same(t, l, l.With(String("a", "b")))
	assert.NoError(t, l.Sync())
}
