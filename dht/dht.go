// Package dht reads DHT11-class humidity/temperature sensors over a single
// bit-banged GPIO line.
//
// The exchange is fully synchronous: a wake pulse, the sensor acknowledge,
// then 40 bits whose value is encoded in the length of each high pulse.
// Every edge wait is bounded by a loop countdown (the timeout budget), not by
// wall-clock comparison, so the capture never blocks on a silent sensor.
package dht

import (
	"strings"

	"github.com/pkg/errors"
)

const Version = "0.1.14"

const (
	goPulseMicros      = 40
	bitThresholdMicros = 40
	frameBits          = 40

	readWakeupMillis  = 18
	probeWakeupMillis = 1
)

type Level bool

const (
	Low  Level = false
	High Level = true
)

type Direction uint8

const (
	Input Direction = iota
	Output
)

// Pin is the single digital line the sensor is wired to.
// Implementations must keep Read cheap, it runs inside the timing loops.
type Pin interface {
	SetDirection(Direction)
	Write(Level)
	Read() Level
}

// Clock gives microsecond timestamps and blocking delays.
// Micros is allowed to wrap around.
type Clock interface {
	Micros() uint32
	SleepMillis(ms uint32)
	SleepMicros(us uint32)
}

type Variant uint8

const (
	DHT11 Variant = iota + 1
	DHT21
	DHT22
	DHT33
	DHT44
)

func (v Variant) String() string {
	switch v {
	case DHT11:
		return "DHT11"
	case DHT21:
		return "DHT21"
	case DHT22:
		return "DHT22"
	case DHT33:
		return "DHT33"
	case DHT44:
		return "DHT44"
	}
	return "DHT??"
}

// WakeupMillis is how long the line is held low to wake the sensor for a
// read. Every variant gets the long pulse; only IsConnected uses the short one.
func (v Variant) WakeupMillis() uint32 {
	return readWakeupMillis
}

// Decimals is the resolution of the values the variant reports.
func (v Variant) Decimals() int {
	if v == DHT11 {
		return 0
	}
	return 1
}

func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dht11", "11":
		return DHT11, nil
	case "dht21", "21", "am2301":
		return DHT21, nil
	case "dht22", "22", "am2302":
		return DHT22, nil
	case "dht33", "33":
		return DHT33, nil
	case "dht44", "44":
		return DHT44, nil
	}
	return 0, errors.Errorf("unknown sensor variant %q", name)
}
