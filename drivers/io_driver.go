package drivers

import (
	"context"

	"github.com/hubertat/dhtkit/dht"
)

// IoDriver hands out timing lines for sensors and plain outputs for
// displays. Lines are exclusive: each one can be taken once.
type IoDriver interface {
	Setup(ctx context.Context, lines []uint16, outputs []uint16) error
	Close() error
	String() string
	IsReady() bool
	GetUniqueId(pin uint16) uint64
	GetLine(pin uint16) (TimedLine, error)
	GetOutput(pin uint16) (DigitalOutput, error)
	GetAllIo() (lines []uint16, outputs []uint16)
}

func MapAllIoDrivers() map[string]IoDriver {
	drivers := []IoDriver{
		&GpIO{},
		&PeriphIO{},
		&McpIO{},
		&MockIoDriver{},
	}

	mapped := make(map[string]IoDriver)
	for _, driver := range drivers {
		mapped[driver.String()] = driver
	}
	return mapped
}

// TimedLine is a sensor line together with the clock that times it.
type TimedLine interface {
	dht.Pin
	dht.Clock
}

type DigitalOutput interface {
	GetState() (bool, error)
	Set(bool) error
}
