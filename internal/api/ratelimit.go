package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectLimiter admits at most rate signaling connections per client
// address within a sliding window.
type ConnectLimiter struct {
	rate     int
	window   time.Duration
	maxAddrs int // addresses tracked before the least recently admitted is forgotten
	now      func() time.Time
	log      *zap.Logger

	mu sync.Mutex
	// admitted holds each address's admission times inside the window,
	// oldest first.
	admitted map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewConnectLimiter starts a limiter allowing rate connections per window.
func NewConnectLimiter(rate int, window time.Duration, log *zap.Logger) *ConnectLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	l := &ConnectLimiter{
		rate:     rate,
		window:   window,
		maxAddrs: 10000,
		now:      time.Now,
		log:      log,
		admitted: make(map[string][]time.Time),
		stop:     make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow records a connection attempt from addr and reports whether it is
// within the limit. Refused attempts do not count against the window.
func (l *ConnectLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times, known := l.admitted[addr]
	times = inWindow(times, now.Add(-l.window))
	if len(times) >= l.rate {
		l.admitted[addr] = times
		return false
	}
	if !known && len(l.admitted) >= l.maxAddrs {
		l.forgetLocked(now)
	}
	l.admitted[addr] = append(times, now)
	return true
}

// inWindow drops the admissions at or before cutoff.
func inWindow(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// forgetLocked makes room for one more address: idle addresses go first,
// otherwise the one admitted least recently.
func (l *ConnectLimiter) forgetLocked(now time.Time) {
	l.pruneLocked(now)
	if len(l.admitted) < l.maxAddrs {
		return
	}
	var (
		lru    string
		lruAt  time.Time
		picked bool
	)
	for addr, times := range l.admitted {
		last := times[len(times)-1]
		if !picked || last.Before(lruAt) {
			lru, lruAt, picked = addr, last, true
		}
	}
	delete(l.admitted, lru)
}

func (l *ConnectLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for addr, times := range l.admitted {
		if times = inWindow(times, cutoff); len(times) == 0 {
			delete(l.admitted, addr)
		} else {
			l.admitted[addr] = times
		}
	}
}

// Middleware refuses connections over the limit with 429.
func (l *ConnectLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r)
		if !l.Allow(addr) {
			l.log.Debug("Connection rate limited", zap.String("remote", addr))
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// Close stops the background sweep.
func (l *ConnectLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// clientIP uses the TCP peer address only; X-Forwarded-For is client
// controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *ConnectLimiter) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.pruneLocked(l.now())
			l.mu.Unlock()
		}
	}
}
