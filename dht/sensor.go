package dht

import "strconv"

// noCopy makes go vet report copies of a Sensor.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Sensor is one physical sensor on one GPIO line. It owns the line for its
// whole lifetime; use it through the pointer returned by New and never copy
// it, two copies would interleave handshakes on the same wire.
type Sensor struct {
	noCopy noCopy

	pinID uint16
	link  *Link

	reading Reading
	valid   bool
	state   State
}

type Option func(*Sensor)

// WithTimeoutBudget overrides DefaultTimeoutBudget.
func WithTimeoutBudget(loops uint16) Option {
	return func(s *Sensor) {
		if loops > 0 {
			s.link.budget = loops
		}
	}
}

func New(pinID uint16, pin Pin, clock Clock, opts ...Option) *Sensor {
	s := &Sensor{
		pinID: pinID,
		link:  NewLink(pin, clock, DefaultTimeoutBudget),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read captures and decodes one frame. A timeout invalidates the held
// reading, a checksum error keeps whatever was held before.
func (s *Sensor) Read(v Variant) ErrorCode {
	raw, code := s.link.Capture(v.WakeupMillis())
	if code != OK {
		s.valid = false
		s.reading = Reading{}
		s.state = s.link.State()
		return code
	}

	r, code := Decode(raw, v)
	if code != OK {
		s.state = ChecksumFailed
		return code
	}

	s.reading = r
	s.valid = true
	s.state = Done
	return OK
}

func (s *Sensor) Read11() ErrorCode { return s.Read(DHT11) }
func (s *Sensor) Read21() ErrorCode { return s.Read(DHT21) }
func (s *Sensor) Read22() ErrorCode { return s.Read(DHT22) }
func (s *Sensor) Read33() ErrorCode { return s.Read(DHT33) }
func (s *Sensor) Read44() ErrorCode { return s.Read(DHT44) }

// IsConnected runs a capture with the short wake pulse and reports whether
// the sensor answered all 40 bits. The held reading is left alone.
func (s *Sensor) IsConnected() bool {
	_, code := s.link.Capture(probeWakeupMillis)
	s.state = s.link.State()
	return code == OK
}

// Reset drops the held reading.
func (s *Sensor) Reset() {
	s.reading = Reading{}
	s.valid = false
}

func (s *Sensor) Reading() (Reading, bool) {
	return s.reading, s.valid
}

func (s *Sensor) Humidity() float64 {
	if !s.valid {
		return InvalidReading
	}
	return s.reading.Humidity
}

func (s *Sensor) Temperature() float64 {
	if !s.valid {
		return InvalidReading
	}
	return s.reading.Temperature
}

func (s *Sensor) Raw() RawSample { return s.link.Raw() }

func (s *Sensor) State() State { return s.state }

func (s *Sensor) Pin() uint16 { return s.pinID }

func (s *Sensor) TimeoutBudget() uint16 { return s.link.Budget() }

func (s *Sensor) FormatHumidity(v Variant) string {
	return FormatValue(s.Humidity(), v.Decimals())
}

func (s *Sensor) FormatTemperature(v Variant) string {
	return FormatValue(s.Temperature(), v.Decimals())
}

// FormatValue renders a value as a plain number. The sentinel is always
// rendered without decimals.
func FormatValue(value float64, decimals int) string {
	if value == InvalidReading {
		decimals = 0
	}
	return strconv.FormatFloat(value, 'f', decimals, 64)
}
