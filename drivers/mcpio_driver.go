package drivers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"

// McpIO drives outputs of an MCP23017 expander, typically an LCD backpack.
// Every pin change is an I2C transaction, far too slow for sensor lines, so
// lines are refused.
type McpIO struct {
	device *mcp23017.Device

	outputs []McpOutput
	isReady bool

	BusNo         uint8
	DevNo         uint8
	InvertOutputs bool
}

type McpOutput struct {
	pin    uint8
	invert bool

	device *mcp23017.Device
}

func (mout *McpOutput) GetState() (state bool, err error) {
	rawState, err := mout.device.DigitalRead(mout.pin)
	if err != nil {
		return
	}

	if mout.invert {
		state = !bool(rawState)
	} else {
		state = bool(rawState)
	}
	return
}

func (mout *McpOutput) Set(state bool) (err error) {
	if mout.invert {
		state = !state
	}

	err = mout.device.DigitalWrite(mout.pin, mcp23017.PinLevel(state))

	return
}

func (mcp *McpIO) String() string {
	return mcpioDriverName
}

func (mcp *McpIO) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpIO) GetUniqueId(pin uint16) uint64 {
	return uint64(0x02)<<56 + uint64(mcp.BusNo)<<16 + uint64(mcp.DevNo)<<8 + uint64(pin)
}

func (mcp *McpIO) Setup(ctx context.Context, lines []uint16, outputs []uint16) (err error) {
	if len(lines) > 0 {
		err = errors.Errorf("mcpio cannot drive sensor lines (got %v)", lines)
		return
	}

	mcp.device, err = mcp23017.Open(mcp.BusNo, mcp.DevNo)
	if err != nil {
		err = errors.Wrapf(err, "failed to open mcp23017 on bus %d dev %d", mcp.BusNo, mcp.DevNo)
		return
	}

	for _, outputPin := range outputs {
		if outputPin > 15 {
			err = errors.Errorf("output pin %d out of range (mcpio has 16 pins)", outputPin)
			return
		}
		err = mcp.device.PinMode(uint8(outputPin), mcp23017.OUTPUT)
		if err != nil {
			return
		}
		mcp.outputs = append(mcp.outputs, McpOutput{pin: uint8(outputPin), invert: mcp.InvertOutputs, device: mcp.device})
	}

	mcp.isReady = err == nil

	return
}

func (mcp *McpIO) GetLine(id uint16) (TimedLine, error) {
	return nil, errors.Errorf("mcpio has no sensor lines (asked for %d)", id)
}

func (mcp *McpIO) GetOutput(id uint16) (output DigitalOutput, err error) {
	for i := range mcp.outputs {
		if mcp.outputs[i].pin == uint8(id) {
			output = &mcp.outputs[i]
			return
		}
	}

	err = errors.Errorf("output (id: %d) not found", id)
	return
}

func (mcp *McpIO) Close() error {
	if mcp.device == nil {
		return nil
	}
	mcp.isReady = false
	for _, output := range mcp.outputs {
		output.Set(false)
	}
	return mcp.device.Close()
}

func (mcp *McpIO) GetAllIo() (lines []uint16, outputs []uint16) {
	for _, output := range mcp.outputs {
		outputs = append(outputs, uint16(output.pin))
	}

	return
}
