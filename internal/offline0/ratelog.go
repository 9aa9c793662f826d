package offline0

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// rateLimitedLogger drops lines logged within interval of the previous one.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{interval: interval}
}

func (l *rateLimitedLogger) Warnf(fields log.Fields, format string, args ...any) {
	l.mu.Lock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		l.mu.Unlock()
		return
	}
	l.lastAt = now
	dropped := l.dropped
	l.dropped = 0
	l.mu.Unlock()

	e := log.WithFields(fields)
	if dropped > 0 {
		e = e.WithField("suppressed", dropped)
	}
	e.Warnf(format, args...)
}
