package drivers

import (
	"context"
	"fmt"
	"io"

	"github.com/hubertat/dhtkit/dht"
	"github.com/pkg/errors"
)

const mockDriverName = "mock_driver"

// 55 %RH, 26 °C in DHT11 encoding
var defaultMockFrame = MockFrame(55, 0, 26, 0)

type MockOutput struct {
	state            bool
	pin              uint16
	writeTo          io.Writer
	writeStateChange bool
}

func (mo *MockOutput) GetState() (bool, error) {
	return mo.state, nil
}

func (mo *MockOutput) Set(state bool) error {
	if mo.writeStateChange && state != mo.state {
		fmt.Fprintf(mo.writeTo, "[pin %d] state changed to %v\n", mo.pin, state)
	}
	mo.state = state
	return nil
}

// MockIoDriver serves simulated sensors on its lines. Frames sets the frame
// a line answers with, lines without an entry answer 55 %RH / 26 °C in DHT11
// encoding.
type MockIoDriver struct {
	Frames map[uint16][]int

	lines   map[uint16]*MockLine
	order   []uint16
	outputs []*MockOutput
	claims  pinClaims
	ready   bool
}

func (md *MockIoDriver) Setup(ctx context.Context, lines []uint16, outputs []uint16) error {
	err := md.claims.reserve(lines, outputs)
	if err != nil {
		return errors.Wrap(err, "mock driver setup")
	}

	md.lines = make(map[uint16]*MockLine)
	md.order = nil
	md.outputs = nil
	for _, pin := range lines {
		frame := defaultMockFrame
		if configured, ok := md.Frames[pin]; ok {
			if len(configured) != len(frame) {
				return errors.Errorf("mock frame for line %d has %d bytes, want %d", pin, len(configured), len(frame))
			}
			for i, b := range configured {
				if b < 0 || b > 255 {
					return errors.Errorf("mock frame for line %d: byte %d out of range (%d)", pin, i, b)
				}
				frame[i] = byte(b)
			}
		}
		md.lines[pin] = NewMockLine(frame)
		md.order = append(md.order, pin)
	}
	for _, outPin := range outputs {
		md.outputs = append(md.outputs, &MockOutput{pin: outPin})
	}
	md.ready = true
	return nil
}

func (md *MockIoDriver) Close() error {
	md.ready = false
	return nil
}

func (md *MockIoDriver) String() string {
	return mockDriverName
}

func (md *MockIoDriver) GetUniqueId(unitId uint16) uint64 {
	baseId := uint64(0xABCDEF00)
	return baseId + uint64(unitId)
}

func (md *MockIoDriver) IsReady() bool {
	return md.ready
}

func (md *MockIoDriver) GetLine(pin uint16) (TimedLine, error) {
	line, err := md.MockLine(pin)
	if err != nil {
		return nil, err
	}
	if err := md.claims.take(pin); err != nil {
		return nil, err
	}
	return line, nil
}

// MockLine gives access to the simulated sensor without claiming the line.
func (md *MockIoDriver) MockLine(pin uint16) (*MockLine, error) {
	line, ok := md.lines[pin]
	if !ok {
		return nil, errors.Errorf("mock line %d not found", pin)
	}
	return line, nil
}

func (md *MockIoDriver) GetOutput(pin uint16) (DigitalOutput, error) {
	for _, output := range md.outputs {
		if pin == output.pin {
			return output, nil
		}
	}
	return nil, errors.Errorf("mock output %d not found", pin)
}

func (md *MockIoDriver) GetAllIo() (lines []uint16, outputs []uint16) {
	lines = append(lines, md.order...)
	for _, output := range md.outputs {
		outputs = append(outputs, output.pin)
	}
	return
}

func (md *MockIoDriver) MonitorStateChanges(writer io.Writer) {
	for _, out := range md.outputs {
		out.writeTo = writer
		out.writeStateChange = true
	}
}

var _ dht.Pin = (*MockLine)(nil)
