package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	block   chan struct{}
	entered chan struct{}
}

func (m *memorySink) Write(_ context.Context, events []Event) error {
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestMaskAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "unknown"},
		{"192.168.1.100:5000", "192.168.*.*"},
		{"10.0.0.7", "10.0.*.*"},
		{"[2001:db8:abcd:12::1]:443", "2001:db8:abcd::/48"},
		{"not-an-ip", "masked"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, maskAddr(tt.in))
		})
	}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	req := require.New(t)

	// Given
	sink := &memorySink{}
	rec := NewRecorder(sink, 128, zap.NewNop())

	// When
	for i := 0; i < 100; i++ {
		rec.Record(Event{Action: ActionJoin, Result: ResultSuccess, ParticipantID: "A", RemoteAddr: "10.1.2.3:9"})
	}
	req.NoError(rec.Close(context.Background()))

	// Then
	req.Len(sink.events, 100)
	req.True(sink.closed)
	req.Equal("10.1.*.*", sink.events[0].RemoteAddr)
	req.False(sink.events[0].At.IsZero())
	req.Zero(rec.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	req := require.New(t)

	// Given a sink that is stuck
	sink := &memorySink{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	rec := NewRecorder(sink, 1, zap.NewNop())
	rec.Record(Event{Action: ActionJoin, ParticipantID: "A"})
	<-sink.entered

	// When more events arrive than fit
	for i := 0; i < 10; i++ {
		rec.Record(Event{Action: ActionLeave, ParticipantID: "A"})
	}

	// Then some were dropped rather than blocking the caller
	req.Equal(uint64(9), rec.Dropped())
	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(rec.Close(ctx))
}

func TestLogSink(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Write(context.Background(), []Event{{
		Action: ActionSubscribe, Result: ResultFailure, RoomID: "r1", ParticipantID: "B", PeerID: "A", Detail: "no stream",
	}})

	req.NoError(err)
	entries := logs.FilterMessage("AUDIT").All()
	req.Len(entries, 1)
	fields := entries[0].ContextMap()
	req.Equal("SUBSCRIBE", fields["action"])
	req.Equal("A", fields["peer"])
	req.Equal("no stream", fields["detail"])
}

func TestRecordAfterCloseIsDiscarded(t *testing.T) {
	req := require.New(t)
	sink := &memorySink{}
	rec := NewRecorder(sink, 8, zap.NewNop())
	req.NoError(rec.Close(context.Background()))

	// Departures still running at shutdown may record late
	req.NotPanics(func() {
		rec.Record(Event{Action: ActionLeave, ParticipantID: "A"})
	})
	req.NoError(rec.Close(context.Background()))

	req.Empty(sink.events)
}

func TestConcurrentRecordAndClose(t *testing.T) {
	rec := NewRecorder(&memorySink{}, 4, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rec.Record(Event{Action: ActionJoin, ParticipantID: "A"})
			}
		}()
	}
	require.NoError(t, rec.Close(context.Background()))
	wg.Wait()
}
