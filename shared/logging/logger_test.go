package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected zapcore.Level
		wantErr  bool
	}{
		{name: "local defaults to debug", cfg: Config{Environment: "local"}, expected: zapcore.DebugLevel},
		{name: "production defaults to info", cfg: Config{Environment: "production"}, expected: zapcore.InfoLevel},
		{name: "explicit level wins", cfg: Config{Environment: "local", Level: "warn"}, expected: zapcore.WarnLevel},
		{name: "unknown level", cfg: Config{Level: "chatty"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closeFn, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closeFn()

			assert.True(t, logger.Core().Enabled(tt.expected))
			if tt.expected > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.expected-1))
			}
		})
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, closeFn, err := NewLogger(Config{ServiceName: "flight", Environment: "production", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("hold placed")
	require.NoError(t, closeFn())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"hold placed"`)
	assert.Contains(t, string(content), `"service":"flight"`)
}
