package download

import (
	"fmt"
	"math"
	"time"

	units "github.com/docker/go-units"
)

var sizeUnits = []string{"B", "kB", "MB", "GB", "TB", "PB"}

// FormatBytes renders a byte count with two decimals in binary units, e.g. "1.50MB".
func FormatBytes(n float64) string {
	return units.CustomSize("%.2f%s", n, 1024.0, sizeUnits)
}

// FormatPercent renders done/total as a percentage with two decimals.
func FormatPercent(done, total uint64) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%0.2f%%", float64(done)*100/float64(total))
}

// RateSampler measures throughput over fixed periods.
//
// The rate is updated once at least one period has elapsed since the sample
// started; until then no rate is available.
type RateSampler struct {
	period  time.Duration
	now     func() time.Time
	start   time.Time
	counter uint64
	rate    float64
	sampled bool
}

// NewRateSampler returns a sampler with the given period.
func NewRateSampler(period time.Duration) *RateSampler {
	return &RateSampler{period: period, now: time.Now}
}

// Add records n transferred bytes.
func (s *RateSampler) Add(n int) {
	now := s.now()
	if s.start.IsZero() {
		s.start = now
	}
	s.counter += uint64(n) //nolint:gosec // n is a read count and non-negative
	elapsed := now.Sub(s.start)
	if elapsed >= s.period && elapsed > 0 {
		s.rate = float64(s.counter) / elapsed.Seconds()
		s.sampled = true
		s.start = now
		s.counter = 0
	}
}

// Rate returns the last sampled rate in bytes per second.
func (s *RateSampler) Rate() (float64, bool) {
	return s.rate, s.sampled
}

// Format renders the rate as "1.50MB/s", or "" before the first sample.
func (s *RateSampler) Format() string {
	if !s.sampled {
		return ""
	}
	return FormatBytes(s.rate) + "/s"
}

// TimeEstimator extrapolates the remaining time of a transfer from the
// average rate since it started. No estimate is made during the cooldown.
type TimeEstimator struct {
	cooldown  time.Duration
	now       func() time.Time
	start     time.Time
	remaining time.Duration
	ok        bool
}

// NewTimeEstimator starts an estimator.
func NewTimeEstimator(cooldown time.Duration) *TimeEstimator {
	e := &TimeEstimator{cooldown: cooldown, now: time.Now}
	e.start = e.now()
	return e
}

// Update records progress of done out of total bytes.
func (e *TimeEstimator) Update(done, total uint64) {
	elapsed := e.now().Sub(e.start)
	if elapsed <= e.cooldown || done == 0 {
		return
	}
	secs := elapsed.Seconds()
	left := math.Ceil(secs*float64(total)/float64(done) - secs)
	e.remaining = time.Duration(left) * time.Second
	e.ok = true
}

// Remaining returns the estimated time left.
func (e *TimeEstimator) Remaining() (time.Duration, bool) {
	return e.remaining, e.ok
}

// Format renders the estimate as "eta 1m 5s", or "" without an estimate.
func (e *TimeEstimator) Format() string {
	if !e.ok {
		return ""
	}
	return FormatETA(e.remaining)
}

// FormatETA renders a duration as "eta 1m 5s" or "eta 5s".
func FormatETA(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs >= 60 {
		return fmt.Sprintf("eta %dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("eta %ds", secs)
}
