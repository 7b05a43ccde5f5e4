package marketdata

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// throttledErrorLog aggregates venue fetch errors and emits at most one log
// line per rolling interval, with a counter, so a flapping venue cannot
// storm the logs.
type throttledErrorLog struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	interval time.Duration
	counts   map[string]int // venue -> errors since last flush
	lastErr  map[string]string
	lastLog  time.Time
	now      func() time.Time
}

func newThrottledErrorLog(logger zerolog.Logger, interval time.Duration) *throttledErrorLog {
	return &throttledErrorLog{
		logger:   logger,
		interval: interval,
		counts:   make(map[string]int),
		lastErr:  make(map[string]string),
		now:      time.Now,
	}
}

// Record counts one error and flushes the aggregate if the interval elapsed
func (t *throttledErrorLog) Record(venueName string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[venueName]++
	t.lastErr[venueName] = err.Error()

	if t.now().Sub(t.lastLog) < t.interval {
		return
	}

	for name, count := range t.counts {
		t.logger.Warn().
			Str("venue", name).
			Int("errors", count).
			Str("last_error", t.lastErr[name]).
			Dur("interval", t.interval).
			Msg("venue fetch errors (aggregated)")
	}
	t.counts = make(map[string]int)
	t.lastErr = make(map[string]string)
	t.lastLog = t.now()
}
