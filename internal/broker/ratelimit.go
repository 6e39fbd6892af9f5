package broker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "dart-trader/internal/errors"
)

// RateLimiter bounds the outbound call rate: at most maxPerSecond calls in
// any trailing one-second window and at most maxPerDay calls per calendar
// day. The daily counter resets at local-date rollover.
type RateLimiter struct {
	maxPerSecond int
	maxPerDay    int

	mu            sync.Mutex
	timestamps    []time.Time
	dailyCount    int
	lastResetDate string

	now   func() time.Time
	sleep func(time.Duration)

	log zerolog.Logger
}

// NewRateLimiter creates a rate limiter with the given ceilings.
func NewRateLimiter(maxPerSecond, maxPerDay int, log zerolog.Logger) *RateLimiter {
	l := &RateLimiter{
		maxPerSecond: maxPerSecond,
		maxPerDay:    maxPerDay,
		now:          time.Now,
		sleep:        time.Sleep,
		log:          log,
	}
	l.lastResetDate = l.now().Format("2006-01-02")
	return l
}

// WaitIfNeeded blocks until a call may proceed, then records it. When the
// daily ceiling is already reached it fails instead of sleeping a day-scale
// wait out; that error is fatal for the current invocation.
func (l *RateLimiter) WaitIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if d := now.Format("2006-01-02"); d != l.lastResetDate {
		l.dailyCount = 0
		l.lastResetDate = d
		l.log.Info().Str("date", d).Msg("Daily API call counter reset")
	}

	if l.dailyCount >= l.maxPerDay {
		l.log.Error().
			Int("count", l.dailyCount).
			Int("limit", l.maxPerDay).
			Msg("Daily API call limit reached")
		return apperrors.NewBrokerError(apperrors.KindRateLimit, "rate_limit", "",
			"daily API call limit reached", apperrors.ErrDailyCallLimit)
	}

	// Keep only the trailing one-second window.
	cutoff := now.Add(-time.Second)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) >= l.maxPerSecond {
		wait := time.Second - now.Sub(l.timestamps[0])
		if wait > 0 {
			l.log.Debug().Dur("wait", wait).Msg("Per-second call limit, waiting")
			l.sleep(wait)
		}
	}

	l.timestamps = append(l.timestamps, l.now())
	l.dailyCount++
	return nil
}

// DailyCount returns the number of calls recorded for the current day.
func (l *RateLimiter) DailyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyCount
}
