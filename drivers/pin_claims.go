package drivers

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrPinInUse = errors.New("pin in use")

// pinClaims keeps track of which pins a driver was set up with and which
// lines were already handed out.
type pinClaims struct {
	lock    sync.Mutex
	lines   map[uint16]bool
	outputs map[uint16]bool
}

func (pc *pinClaims) reserve(lines []uint16, outputs []uint16) error {
	pc.lock.Lock()
	defer pc.lock.Unlock()

	pc.lines = make(map[uint16]bool)
	pc.outputs = make(map[uint16]bool)
	for _, pin := range lines {
		if _, dup := pc.lines[pin]; dup {
			return errors.Wrapf(ErrPinInUse, "line %d declared twice", pin)
		}
		pc.lines[pin] = false
	}
	for _, pin := range outputs {
		if _, isLine := pc.lines[pin]; isLine {
			return errors.Wrapf(ErrPinInUse, "pin %d declared as line and output", pin)
		}
		pc.outputs[pin] = true
	}
	return nil
}

func (pc *pinClaims) take(pin uint16) error {
	pc.lock.Lock()
	defer pc.lock.Unlock()

	taken, found := pc.lines[pin]
	if !found {
		return errors.Errorf("line %d was not set up", pin)
	}
	if taken {
		return errors.Wrapf(ErrPinInUse, "line %d already taken", pin)
	}
	pc.lines[pin] = true
	return nil
}
