package dht

import (
	"strconv"

	"github.com/pkg/errors"
)

// ErrorCode is the outcome of a read. It is a value, not an error; use Err
// to get an error that works with errors.Is.
type ErrorCode int16

const (
	OK            ErrorCode = 0
	ErrorChecksum ErrorCode = -1
	ErrorTimeout  ErrorCode = -2
	InvalidValue  ErrorCode = -999
)

// InvalidReading is what Humidity and Temperature return while no valid
// reading is held.
const InvalidReading = float64(InvalidValue)

var (
	ErrChecksum     = errors.New("dht: checksum mismatch")
	ErrTimeout      = errors.New("dht: timeout")
	ErrInvalidValue = errors.New("dht: no valid reading")
)

func (c ErrorCode) String() string {
	switch c {
	case OK:
		return "ok"
	case ErrorChecksum:
		return "checksum error"
	case ErrorTimeout:
		return "timeout"
	case InvalidValue:
		return "invalid value"
	}
	return "code " + strconv.Itoa(int(c))
}

func (c ErrorCode) Err() error {
	switch c {
	case OK:
		return nil
	case ErrorChecksum:
		return ErrChecksum
	case ErrorTimeout:
		return ErrTimeout
	case InvalidValue:
		return ErrInvalidValue
	}
	return errors.Errorf("dht: unexpected code %d", int16(c))
}
