package drivers

import (
	"sync"

	"github.com/hubertat/dhtkit/dht"
)

// Sensor side timings of one exchange, in microseconds.
const (
	mockAckLowMicros  = 80
	mockAckHighMicros = 80
	mockBitLowMicros  = 50
	mockZeroMicros    = 26
	mockOneMicros     = 70
)

type mockSegment struct {
	level dht.Level
	until uint32
}

// MockLine simulates a DHT sensor on a pulled-up line together with its own
// clock. Simulated time only moves when the host sleeps or reads the line,
// every read costs PollMicros.
type MockLine struct {
	PollMicros uint32
	// MinWakeMillis is the shortest wake pulse the sensor answers to.
	MinWakeMillis uint32

	lock       sync.Mutex
	frame      dht.RawSample
	responding bool
	stopAfter  int

	now       uint32
	dir       dht.Direction
	driven    dht.Level
	lowSince  uint32
	wakeOK    bool
	startedAt uint32
	wave      []mockSegment
	reads     int
	captures  int
}

func NewMockLine(frame dht.RawSample) *MockLine {
	return &MockLine{
		PollMicros:    1,
		MinWakeMillis: 1,
		frame:         frame,
		responding:    true,
		stopAfter:     -1,
		dir:           dht.Output,
		driven:        dht.High,
	}
}

// MockFrame builds a frame with a correct checksum.
func MockFrame(b0, b1, b2, b3 byte) dht.RawSample {
	return dht.RawSample{b0, b1, b2, b3, b0 + b1 + b2 + b3}
}

func (ml *MockLine) SetFrame(frame dht.RawSample) {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	ml.frame = frame
}

func (ml *MockLine) Frame() dht.RawSample {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	return ml.frame
}

// SetResponding false makes the sensor ignore wake pulses.
func (ml *MockLine) SetResponding(responding bool) {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	ml.responding = responding
}

// StopAfterBits makes the sensor go quiet after n bits, n < 0 sends all.
func (ml *MockLine) StopAfterBits(n int) {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	ml.stopAfter = n
}

func (ml *MockLine) Reads() int {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	return ml.reads
}

// Captures counts the exchanges the sensor answered.
func (ml *MockLine) Captures() int {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	return ml.captures
}

func (ml *MockLine) Direction() dht.Direction {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	return ml.dir
}

func (ml *MockLine) Driven() dht.Level {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	return ml.driven
}

func (ml *MockLine) SetDirection(dir dht.Direction) {
	ml.lock.Lock()
	defer ml.lock.Unlock()

	if dir == dht.Input && ml.dir == dht.Output {
		ml.wave = nil
		if ml.wakeOK && ml.responding {
			ml.startedAt = ml.now
			ml.wave = ml.waveform()
			ml.captures++
		}
		ml.wakeOK = false
	}
	ml.dir = dir
}

func (ml *MockLine) Write(level dht.Level) {
	ml.lock.Lock()
	defer ml.lock.Unlock()

	if ml.dir != dht.Output {
		return
	}
	if level == dht.Low && ml.driven == dht.High {
		ml.lowSince = ml.now
	}
	if level == dht.High && ml.driven == dht.Low {
		ml.wakeOK = ml.now-ml.lowSince >= ml.MinWakeMillis*1000
	}
	ml.driven = level
}

func (ml *MockLine) Read() dht.Level {
	ml.lock.Lock()
	defer ml.lock.Unlock()

	ml.reads++
	ml.now += ml.PollMicros
	if ml.dir == dht.Output {
		return ml.driven
	}

	offset := ml.now - ml.startedAt
	for _, seg := range ml.wave {
		if offset < seg.until {
			return seg.level
		}
	}
	return dht.High
}

func (ml *MockLine) Micros() uint32 {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	return ml.now
}

func (ml *MockLine) SleepMillis(ms uint32) {
	ml.advance(ms * 1000)
}

func (ml *MockLine) SleepMicros(us uint32) {
	ml.advance(us)
}

// Advance moves simulated time without touching the line.
func (ml *MockLine) Advance(us uint32) {
	ml.advance(us)
}

func (ml *MockLine) advance(us uint32) {
	ml.lock.Lock()
	defer ml.lock.Unlock()
	ml.now += us
}

func (ml *MockLine) waveform() []mockSegment {
	var wave []mockSegment
	var at uint32
	add := func(level dht.Level, length uint32) {
		at += length
		wave = append(wave, mockSegment{level: level, until: at})
	}

	add(dht.Low, mockAckLowMicros)
	add(dht.High, mockAckHighMicros)
	for bit := 0; bit < 40; bit++ {
		add(dht.Low, mockBitLowMicros)
		if ml.stopAfter >= 0 && bit >= ml.stopAfter {
			// the sensor stops driving, the pull-up holds the line high
			return wave
		}
		if ml.frame[bit/8]&(0x80>>(bit%8)) != 0 {
			add(dht.High, mockOneMicros)
		} else {
			add(dht.High, mockZeroMicros)
		}
	}
	add(dht.Low, mockBitLowMicros)
	return wave
}
