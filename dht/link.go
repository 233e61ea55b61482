package dht

type State uint8

const (
	Idle State = iota
	Waking
	AckWait
	Sampling
	Done
	TimedOut
	ChecksumFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waking:
		return "waking"
	case AckWait:
		return "ack wait"
	case Sampling:
		return "sampling"
	case Done:
		return "done"
	case TimedOut:
		return "timed out"
	case ChecksumFailed:
		return "checksum failed"
	}
	return "unknown"
}

// RawSample is one captured frame: four payload bytes and a checksum.
type RawSample [5]byte

// Sum is the 8-bit sum of the payload bytes.
func (r RawSample) Sum() byte {
	return r[0] + r[1] + r[2] + r[3]
}

func (r RawSample) ChecksumOK() bool {
	return r[4] == r.Sum()
}

// Link performs the timed exchange on one line and captures raw frames.
type Link struct {
	pin    Pin
	clock  Clock
	budget uint16

	raw   RawSample
	state State
}

func NewLink(pin Pin, clock Clock, budget uint16) *Link {
	if budget == 0 {
		budget = DefaultTimeoutBudget
	}
	return &Link{pin: pin, clock: clock, budget: budget}
}

func (l *Link) Budget() uint16 { return l.budget }

func (l *Link) State() State { return l.state }

// Raw returns the buffer of the last capture, complete or not.
func (l *Link) Raw() RawSample { return l.raw }

// Capture wakes the sensor and samples one 40-bit frame. It returns OK or
// ErrorTimeout; a frame is only returned as OK when all 40 bits arrived.
func (l *Link) Capture(wakeupMillis uint32) (RawSample, ErrorCode) {
	var mask byte = 0x80
	idx := 0
	l.raw = RawSample{}

	l.state = Waking
	l.pin.SetDirection(Output)
	l.pin.Write(Low)
	l.clock.SleepMillis(wakeupMillis)
	l.pin.Write(High)
	l.clock.SleepMicros(goPulseMicros)
	l.pin.SetDirection(Input)

	l.state = AckWait
	if !l.waitFor(High) || !l.waitFor(Low) {
		return l.timedOut()
	}

	l.state = Sampling
	for i := frameBits; i != 0; i-- {
		if !l.waitFor(High) {
			return l.timedOut()
		}
		t := l.clock.Micros()
		if !l.waitFor(Low) {
			return l.timedOut()
		}
		if l.clock.Micros()-t > bitThresholdMicros {
			l.raw[idx] |= mask
		}
		mask >>= 1
		if mask == 0 {
			mask = 0x80
			idx++
		}
	}

	l.pin.SetDirection(Output)
	l.pin.Write(High)
	l.state = Done
	return l.raw, OK
}

// waitFor polls until the line shows level. It gives up on the read that
// brings the countdown to zero.
func (l *Link) waitFor(level Level) bool {
	loops := l.budget
	for l.pin.Read() != level {
		loops--
		if loops == 0 {
			return false
		}
	}
	return true
}

func (l *Link) timedOut() (RawSample, ErrorCode) {
	l.state = TimedOut
	return l.raw, ErrorTimeout
}
