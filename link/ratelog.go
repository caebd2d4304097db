package link

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// rateLog throttles routine-but-noisy conditions (auth failures, FEC
// decode errors, session-open failures on a lossy or adversarial link)
// to at most one log line per key per window, so a hostile
// or simply lossy peer can't turn the link into a log-flooding vector.
type rateLog struct {
	log    *logrus.Entry
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func newRateLog(log *logrus.Entry, window time.Duration) *rateLog {
	if window <= 0 {
		window = time.Second
	}
	return &rateLog{log: log, window: window, last: make(map[string]time.Time)}
}

func (r *rateLog) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.last[key]; ok && now.Sub(t) < r.window {
		return false
	}
	r.last[key] = now
	return true
}

func (r *rateLog) warn(key string, args logrus.Fields, format string, v ...interface{}) {
	if !r.allow(key, time.Now()) {
		return
	}
	r.log.WithFields(args).Warnf(format, v...)
}

func (r *rateLog) debug(key string, args logrus.Fields, format string, v ...interface{}) {
	if !r.allow(key, time.Now()) {
		return
	}
	r.log.WithFields(args).Debugf(format, v...)
}
