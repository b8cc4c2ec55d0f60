package scanner

import "time"

// NextSlot returns the next wall-clock slot for a sweep and the time left
// until it. Slots are the multiples of interval counted from the Unix
// epoch, so every process with the same interval sweeps at the same
// instants regardless of when it started. The slot returned is the first
// one strictly after now+margin, which leaves at least margin to get
// discovery going before the sweep.
func NextSlot(now time.Time, interval, margin time.Duration) (time.Duration, time.Time) {
	if interval <= 0 {
		interval = time.Second
	}
	if margin < 0 {
		margin = 0
	}
	n := now.UnixNano()
	iv := int64(interval)
	next := ((n+int64(margin))/iv + 1) * iv
	return time.Duration(next - n), time.Unix(0, next)
}

// clampDelay keeps timers from being armed in the past. A discovery wait
// at least as long as the interval yields a negative lead time which
// simply means "now".
func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
