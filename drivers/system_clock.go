package drivers

import "time"

// SystemClock times lines against the monotonic clock. Millisecond delays
// sleep, microsecond delays spin: the scheduler cannot wake us precisely
// enough for the 40 µs go pulse.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (sc *SystemClock) Micros() uint32 {
	return uint32(time.Since(sc.start) / time.Microsecond)
}

func (sc *SystemClock) SleepMillis(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (sc *SystemClock) SleepMicros(us uint32) {
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}
