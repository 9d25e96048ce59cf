package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{name: "json info", opts: Options{Level: "info", Format: "json"}, wantLevel: zapcore.InfoLevel},
		{name: "console debug", opts: Options{Level: "DEBUG", Format: "console"}, wantLevel: zapcore.DebugLevel},
		{name: "default format", opts: Options{Level: "warn"}, wantLevel: zapcore.WarnLevel},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Level: "info", Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, log.Core().Enabled(tt.wantLevel))
			require.False(t, log.Core().Enabled(tt.wantLevel-1))
		})
	}
}

func TestInstallReplacesGlobals(t *testing.T) {
	req := require.New(t)
	before := zap.L()

	log, restore, err := Install(Options{Level: "error", Format: "json"})
	req.NoError(err)
	req.Same(log, zap.L())

	restore()
	req.Same(before, zap.L())
}
