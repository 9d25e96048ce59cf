// Package audit keeps a trail of session events: who joined which room, who
// published, who subscribed to whom, and which handshakes failed.
package audit

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Action is the kind of session event.
type Action string

const (
	ActionJoin      Action = "JOIN"
	ActionLeave     Action = "LEAVE"
	ActionPublish   Action = "PUBLISH"
	ActionSubscribe Action = "SUBSCRIBE"
)

// Result is the outcome of an action.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
)

// Event is one audit record.
type Event struct {
	At            time.Time `db:"occurred_at"`
	Action        Action    `db:"action"`
	Result        Result    `db:"result"`
	RoomID        string    `db:"room_id"`
	ParticipantID string    `db:"participant_id"`
	// PeerID is the other participant involved, e.g. the publisher of a
	// subscription.
	PeerID     string `db:"peer_id"`
	RemoteAddr string `db:"remote_addr"`
	Detail     string `db:"detail"`
}

// Sink persists batches of events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

const maxBatch = 64

// Recorder buffers events and writes them to a sink on its own goroutine so
// that signaling never waits on storage. Events are dropped when the buffer
// is full.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	events  chan Event
	done    chan struct{}
	dropped atomic.Uint64

	// mu guards closed; Record holds it shared so events is never sent on
	// after Close.
	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder with room for buffer pending events.
func NewRecorder(sink Sink, buffer int, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	r := &Recorder{
		sink:   sink,
		log:    log.Named("audit"),
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues e. The remote address is masked before it leaves the process.
func (r *Recorder) Record(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	e.RemoteAddr = maskAddr(e.RemoteAddr)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Debug("Audit event after close discarded", zap.String("action", string(e.Action)))
		return
	}
	select {
	case r.events <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Warn("Audit buffer full, dropping events", zap.Uint64("dropped", n))
		}
	}
}

// Dropped returns how many events were discarded.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close flushes pending events and closes the sink. Events recorded
// afterwards are discarded.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("audit flush: %w", ctx.Err())
	}
	return r.sink.Close()
}

func (r *Recorder) run() {
	defer close(r.done)
	batch := make([]Event, 0, maxBatch)
	for e := range r.events {
		batch = append(batch[:0], e)
	fill:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-r.events:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Write(ctx, batch); err != nil {
			r.log.Warn("Failed to write audit events", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink logging through log.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		s.log.Info("AUDIT",
			zap.Time("at", e.At),
			zap.String("action", string(e.Action)),
			zap.String("result", string(e.Result)),
			zap.String("room", e.RoomID),
			zap.String("participant", e.ParticipantID),
			zap.String("peer", e.PeerID),
			zap.String("remote", e.RemoteAddr),
			zap.String("detail", e.Detail))
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// maskAddr hides the host part of an address.
// 192.168.1.100:5000 -> 192.168.*.*
func maskAddr(addr string) string {
	if addr == "" {
		return "unknown"
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "masked"
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.*.*", v4[0], v4[1])
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}
