package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestGlobalDefaultsToNop(t *testing.T) {
	assert.NotNil(t, Global())

	l := Nop().Named("test")
	SetGlobal(l)
	t.Cleanup(func() { SetGlobal(Nop()) })
	assert.Same(t, l, Global())
}
