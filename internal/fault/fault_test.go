package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantOK   bool
		wantCode string
	}{
		{"plain error", base, 0, false, "adapter"},
		{"not found", New(NotFound, "subscribe", base), NotFound, true, "not_found"},
		{"wrapped protocol", fmt.Errorf("ctx: %w", Errorf(ProtocolState, "answer", "bad state %d", 2)), ProtocolState, true, "protocol_state"},
		{"transport", New(Transport, "notify", base), Transport, true, "transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(tt.err)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantKind, kind)
			require.Equal(t, tt.wantCode, Code(tt.err))
		})
	}
}

func TestNewKeepsChain(t *testing.T) {
	req := require.New(t)
	base := errors.New("boom")

	err := New(Adapter, "set remote description", base)

	req.ErrorIs(err, base)
	req.True(Is(err, Adapter))
	req.False(Is(err, NotFound))
	req.Equal("set remote description: boom", err.Error())
	req.NoError(New(Adapter, "noop", nil))
}
