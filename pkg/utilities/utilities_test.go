package utilities

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nonsense"))
}

func TestInitWithRotatingFile(t *testing.T) {
	lg, err := Init(Config{Level: "debug", File: filepath.Join(t.TempDir(), "api.log")})
	require.NoError(t, err)
	lg.Sugar().Debugw("hello", "k", "v")
	_ = lg.Sync()
	assert.True(t, lg.Core().Enabled(zapcore.DebugLevel))
}

func TestSnowflakeIDsAreUnique(t *testing.T) {
	require.NoError(t, SetSnowflakeNode(7))
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSnowflakeID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)

	h, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, h, 32)
}
