package drivers

import (
	"context"
	"fmt"

	"github.com/hubertat/dhtkit/dht"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const periphDriverName = "periph"

// PeriphIO uses periph.io pin registry, pins are named GPIO<n>.
type PeriphIO struct {
	InvertOutputs bool

	lines   []*PeriphLine
	outputs []*PeriphOutput
	claims  pinClaims
	clock   *SystemClock

	isReady bool
}

// PeriphLine keeps the first error returned by the pin while the capture
// runs, the timing loops have no room for error returns.
type PeriphLine struct {
	*SystemClock
	id  uint16
	pin gpio.PinIO
	err error
}

func (pl *PeriphLine) SetDirection(dir dht.Direction) {
	var err error
	if dir == dht.Output {
		err = pl.pin.Out(pl.pin.Read())
	} else {
		err = pl.pin.In(gpio.PullUp, gpio.NoEdge)
	}
	pl.keep(err)
}

func (pl *PeriphLine) Write(level dht.Level) {
	pl.keep(pl.pin.Out(gpio.Level(level)))
}

func (pl *PeriphLine) Read() dht.Level {
	return dht.Level(pl.pin.Read())
}

// Err returns and clears the first pin error since the last call.
func (pl *PeriphLine) Err() error {
	err := pl.err
	pl.err = nil
	return err
}

func (pl *PeriphLine) keep(err error) {
	if err != nil && pl.err == nil {
		pl.err = errors.Wrapf(err, "periph line %s", pl.pin.Name())
	}
}

type PeriphOutput struct {
	id     uint16
	pin    gpio.PinIO
	invert bool
}

func (po *PeriphOutput) Set(state bool) error {
	if po.invert {
		state = !state
	}
	return po.pin.Out(gpio.Level(state))
}

func (po *PeriphOutput) GetState() (bool, error) {
	state := bool(po.pin.Read())
	if po.invert {
		state = !state
	}
	return state, nil
}

func periphPin(id uint16) (gpio.PinIO, error) {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", id))
	if pin == nil {
		return nil, errors.Errorf("periph pin GPIO%d not found", id)
	}
	return pin, nil
}

func (pio *PeriphIO) Setup(ctx context.Context, lines []uint16, outputs []uint16) error {
	err := pio.claims.reserve(lines, outputs)
	if err != nil {
		return errors.Wrap(err, "periph driver setup")
	}

	_, err = host.Init()
	if err != nil {
		return errors.Wrap(err, "failed to init periph host")
	}

	pio.clock = NewSystemClock()
	for _, id := range lines {
		pin, err := periphPin(id)
		if err != nil {
			return err
		}
		err = pin.Out(gpio.High)
		if err != nil {
			return errors.Wrapf(err, "failed to set line %d high", id)
		}
		pio.lines = append(pio.lines, &PeriphLine{SystemClock: pio.clock, id: id, pin: pin})
	}

	for _, id := range outputs {
		pin, err := periphPin(id)
		if err != nil {
			return err
		}
		out := &PeriphOutput{id: id, pin: pin, invert: pio.InvertOutputs}
		err = out.Set(false)
		if err != nil {
			return errors.Wrapf(err, "failed to set output %d", id)
		}
		pio.outputs = append(pio.outputs, out)
	}

	pio.isReady = true
	return nil
}

func (pio *PeriphIO) String() string {
	return periphDriverName
}

func (pio *PeriphIO) IsReady() bool {
	return pio.isReady
}

func (pio *PeriphIO) GetUniqueId(pin uint16) uint64 {
	return uint64(0x04)<<56 + uint64(pin)
}

func (pio *PeriphIO) Close() error {
	pio.isReady = false
	for _, output := range pio.outputs {
		output.Set(false)
	}
	return nil
}

func (pio *PeriphIO) GetLine(id uint16) (TimedLine, error) {
	for _, line := range pio.lines {
		if line.id == id {
			if err := pio.claims.take(id); err != nil {
				return nil, err
			}
			return line, nil
		}
	}
	return nil, errors.Errorf("periph line (id: %d) not found", id)
}

func (pio *PeriphIO) GetOutput(id uint16) (DigitalOutput, error) {
	for _, out := range pio.outputs {
		if out.id == id {
			return out, nil
		}
	}
	return nil, errors.Errorf("periph output (id: %d) not found", id)
}

func (pio *PeriphIO) GetAllIo() (lines []uint16, outputs []uint16) {
	for _, line := range pio.lines {
		lines = append(lines, line.id)
	}
	for _, output := range pio.outputs {
		outputs = append(outputs, output.id)
	}
	return
}
