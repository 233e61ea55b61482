package drivers

import (
	"context"

	"github.com/hubertat/dhtkit/dht"
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"

type GpIO struct {
	InvertOutputs bool

	lines   []*GpLine
	outputs []*GpOutput
	claims  pinClaims
	clock   *SystemClock

	isReady bool
}

// GpLine is a sensor line on a memory mapped pin. SetDirection(Input)
// enables the pull-up so an idle bus reads high.
type GpLine struct {
	*SystemClock
	pin rpio.Pin
}

func (gl *GpLine) SetDirection(dir dht.Direction) {
	if dir == dht.Output {
		gl.pin.Output()
		return
	}
	gl.pin.Input()
	gl.pin.PullUp()
}

func (gl *GpLine) Write(level dht.Level) {
	if level == dht.High {
		gl.pin.High()
	} else {
		gl.pin.Low()
	}
}

func (gl *GpLine) Read() dht.Level {
	return gl.pin.Read() == rpio.High
}

type GpOutput struct {
	pin    uint8
	invert bool
}

func (gpo *GpOutput) Set(state bool) error {
	if gpo.invert {
		state = !state
	}
	if state {
		rpio.Pin(gpo.pin).High()
	} else {
		rpio.Pin(gpo.pin).Low()
	}

	return nil
}

func (gpo *GpOutput) GetState() (state bool, err error) {
	if gpo.invert {
		state = rpio.Pin(gpo.pin).Read() == rpio.Low
	} else {
		state = rpio.Pin(gpo.pin).Read() == rpio.High
	}

	return
}

func (gp *GpIO) Setup(ctx context.Context, lines []uint16, outputs []uint16) error {
	err := gp.claims.reserve(lines, outputs)
	if err != nil {
		return errors.Wrap(err, "gpio driver setup")
	}
	for _, pin := range append(append([]uint16{}, lines...), outputs...) {
		if pin > 255 {
			return errors.Errorf("pin %d out of range (gpio takes uint8 pin)", pin)
		}
	}

	err = rpio.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to Setup gpio driver for pins: %v, %v; ", lines, outputs)
	}

	gp.clock = NewSystemClock()
	for _, linePin := range lines {
		line := &GpLine{SystemClock: gp.clock, pin: rpio.Pin(linePin)}
		line.pin.Output()
		line.pin.High()
		gp.lines = append(gp.lines, line)
	}

	for _, outPin := range outputs {
		pin := rpio.Pin(outPin)
		pin.Output()
		gp.outputs = append(gp.outputs, &GpOutput{pin: uint8(outPin), invert: gp.InvertOutputs})
	}

	gp.isReady = true
	return nil
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) IsReady() bool {
	return gp.isReady
}

func (gp *GpIO) GetUniqueId(pin uint16) uint64 {
	return uint64(0x01)<<56 + uint64(pin)
}

func (gp *GpIO) Close() error {
	if !gp.isReady {
		return nil
	}
	gp.isReady = false
	for _, output := range gp.outputs {
		output.Set(false)
	}
	return rpio.Close()
}

func (gp *GpIO) GetLine(id uint16) (TimedLine, error) {
	for _, line := range gp.lines {
		if uint16(line.pin) == id {
			if err := gp.claims.take(id); err != nil {
				return nil, err
			}
			return line, nil
		}
	}

	return nil, errors.Errorf("GpIO line (id: %d) not found", id)
}

func (gp *GpIO) GetOutput(id uint16) (DigitalOutput, error) {
	for _, out := range gp.outputs {
		if uint16(out.pin) == id {
			return out, nil
		}
	}

	return nil, errors.Errorf("GpIO Output (id: %d) not found", id)
}

func (gp *GpIO) GetAllIo() (lines []uint16, outputs []uint16) {
	for _, line := range gp.lines {
		lines = append(lines, uint16(line.pin))
	}

	for _, output := range gp.outputs {
		outputs = append(outputs, uint16(output.pin))
	}

	return
}
