package dhtkit

import (
	"context"
	"testing"
	"time"

	"github.com/brutella/hap/characteristic"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/dhtkit/dht"
	"github.com/hubertat/dhtkit/drivers"
)

type testClock struct {
	at time.Time
}

func newTestClock() *testClock {
	return &testClock{at: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (tc *testClock) now() time.Time {
	return tc.at
}

func (tc *testClock) advance(d time.Duration) {
	tc.at = tc.at.Add(d)
}

func newMockSensor(t testing.TB, clock *testClock, frame []int) (*ClimateSensor, *drivers.MockLine) {
	t.Helper()

	md := &drivers.MockIoDriver{}
	if frame != nil {
		md.Frames = map[uint16][]int{4: frame}
	}
	if err := md.Setup(context.Background(), []uint16{4}, nil); err != nil {
		t.Fatal(err)
	}

	cs := &ClimateSensor{Id: "attic", Name: "Attic", DriverName: "mock_driver", Pin: 4, Variant: "dht11", now: clock.now}
	if err := cs.Init(md); err != nil {
		t.Fatalf("Init returned err: %v", err)
	}
	line, _ := md.MockLine(4)
	return cs, line
}

func assertReport(t testing.TB, r Report, valid bool, humidity, temperature float64, code dht.ErrorCode) {
	t.Helper()

	if r.Valid != valid {
		t.Errorf("got valid %v want %v", r.Valid, valid)
	}
	if r.Humidity != humidity || r.Temperature != temperature {
		t.Errorf("got %v %%RH %v °C want %v %%RH %v °C", r.Humidity, r.Temperature, humidity, temperature)
	}
	if r.ErrorCode() != code {
		t.Errorf("got code %v want %v", r.ErrorCode(), code)
	}
}

func TestClimateSensorInitErrors(t *testing.T) {
	md := &drivers.MockIoDriver{}
	md.Setup(context.Background(), []uint16{4}, nil)

	cases := map[string]*ClimateSensor{
		"no id":       {Variant: "dht11", Pin: 4},
		"bad id":      {Id: "a/b", Variant: "dht11", Pin: 4},
		"bad variant": {Id: "a", Variant: "dht99", Pin: 4},
		"no line":     {Id: "a", Variant: "dht11", Pin: 9},
	}
	for name, cs := range cases {
		t.Run(name, func(t *testing.T) {
			cs.DisableHomeKit = true
			if err := cs.Init(md); err == nil {
				t.Error("expected Init error")
			}
		})
	}

	first := &ClimateSensor{Id: "a", Variant: "dht11", Pin: 4}
	if err := first.Init(md); err != nil {
		t.Fatal(err)
	}
	second := &ClimateSensor{Id: "b", Variant: "dht11", Pin: 4}
	if err := second.Init(md); !errors.Is(err, drivers.ErrPinInUse) {
		t.Errorf("second sensor on the same line got %v want ErrPinInUse", err)
	}
}

func TestClimateSensorFreshReport(t *testing.T) {
	cs, _ := newMockSensor(t, newTestClock(), nil)

	r := cs.Report()
	assertReport(t, r, false, dht.InvalidReading, dht.InvalidReading, dht.InvalidValue)
	if r.Id != "attic" || r.Variant != "DHT11" || r.Stale {
		t.Errorf("unexpected report %+v", r)
	}
	if cs.GetUniqueId() != 0xABCDEF04 {
		t.Errorf("got unique id %x", cs.GetUniqueId())
	}
	if cs.hkFaults[0].Value() != characteristic.StatusFaultGeneralFault {
		t.Error("sensor without reading should report a fault")
	}
}

func TestClimateSensorSync(t *testing.T) {
	clock := newTestClock()
	cs, _ := newMockSensor(t, clock, nil)

	if err := cs.Sync(); err != nil {
		t.Fatalf("Sync returned err: %v", err)
	}

	r := cs.Report()
	assertReport(t, r, true, 55, 26, dht.OK)
	if !r.ReadAt.Equal(clock.at) || r.State != "done" {
		t.Errorf("unexpected report %+v", r)
	}

	for _, fault := range cs.hkFaults {
		if fault.Value() != characteristic.StatusFaultNoFault {
			t.Error("fault still set after a good read")
		}
	}
	if cs.hkTemp.CurrentTemperature.Value() != 26 {
		t.Errorf("HomeKit temperature %v", cs.hkTemp.CurrentTemperature.Value())
	}
	if cs.hkHumidity.CurrentRelativeHumidity.Value() != 55 {
		t.Errorf("HomeKit humidity %v", cs.hkHumidity.CurrentRelativeHumidity.Value())
	}
}

func TestClimateSensorPacing(t *testing.T) {
	clock := newTestClock()
	cs, line := newMockSensor(t, clock, nil)

	cs.Sync()
	captures := line.Captures()

	clock.advance(time.Second)
	cs.Sync()
	if line.Captures() != captures {
		t.Error("sensor read before the minimum interval")
	}

	clock.advance(time.Second)
	cs.Sync()
	if line.Captures() != captures+1 {
		t.Error("sensor not read after the minimum interval")
	}

	line.SetResponding(false)
	clock.advance(2 * time.Second)
	err := cs.Sync()
	if !errors.Is(err, dht.ErrTimeout) {
		t.Fatalf("got %v want timeout", err)
	}
	assertReport(t, cs.Report(), false, dht.InvalidReading, dht.InvalidReading, dht.ErrorTimeout)
	if cs.Report().Failures != 1 {
		t.Errorf("got %d failures", cs.Report().Failures)
	}

	// one failure adds 500 ms
	before := line.Reads()
	clock.advance(2 * time.Second)
	cs.Sync()
	if line.Reads() != before {
		t.Error("sensor read before the backoff passed")
	}
	clock.advance(500 * time.Millisecond)
	cs.Sync()
	if line.Reads() == before {
		t.Error("sensor not read after the backoff")
	}
	if cs.Report().Failures != 2 {
		t.Errorf("got %d failures", cs.Report().Failures)
	}

	line.SetResponding(true)
	clock.advance(3 * time.Second)
	if err := cs.Sync(); err != nil {
		t.Fatalf("Sync returned err: %v", err)
	}
	if cs.Report().Failures != 0 {
		t.Error("success should clear the failure count")
	}
}

func TestRetryInterval(t *testing.T) {
	cases := map[int]time.Duration{
		0:   2 * time.Second,
		1:   2500 * time.Millisecond,
		10:  7 * time.Second,
		56:  30 * time.Second,
		100: 30 * time.Second,
	}
	for failures, want := range cases {
		if got := retryInterval(failures); got != want {
			t.Errorf("retryInterval(%d) = %v want %v", failures, got, want)
		}
	}
}

func TestClimateSensorChecksumKeepsReport(t *testing.T) {
	clock := newTestClock()
	cs, line := newMockSensor(t, clock, nil)
	cs.Sync()
	readAt := cs.Report().ReadAt

	line.SetFrame(dht.RawSample{60, 0, 30, 0, 1})
	clock.advance(2 * time.Second)
	err := cs.Sync()
	if !errors.Is(err, dht.ErrChecksum) {
		t.Fatalf("got %v want checksum error", err)
	}

	r := cs.Report()
	assertReport(t, r, true, 55, 26, dht.ErrorChecksum)
	if !r.ReadAt.Equal(readAt) {
		t.Error("checksum failure moved ReadAt")
	}
	if cs.hkFaults[0].Value() != characteristic.StatusFaultNoFault {
		t.Error("held reading is still good for HomeKit")
	}
}

func TestClimateSensorStale(t *testing.T) {
	clock := newTestClock()
	cs, line := newMockSensor(t, clock, nil)
	cs.Sync()

	line.SetFrame(dht.RawSample{60, 0, 30, 0, 1})
	for i := 0; i < 30; i++ {
		clock.advance(30 * time.Second)
		cs.Sync()
	}

	r := cs.Report()
	if !r.Valid || !r.Stale {
		t.Errorf("got valid %v stale %v, want an old valid reading", r.Valid, r.Stale)
	}
	if cs.hkFaults[0].Value() != characteristic.StatusFaultGeneralFault {
		t.Error("stale reading should set the HomeKit fault")
	}
}

func TestClimateSensorRequestRead(t *testing.T) {
	clock := newTestClock()
	cs, line := newMockSensor(t, clock, nil)
	cs.Sync()
	captures := line.Captures()

	cs.MqttHandle(&paho.Publish{Topic: "dhtkit/attic/cmd", Payload: []byte(" READ\n")})
	cs.Sync()
	if line.Captures() != captures+1 {
		t.Error("requested read did not happen")
	}

	cs.Sync()
	if line.Captures() != captures+1 {
		t.Error("request should only force one read")
	}
}

func TestClimateSensorReset(t *testing.T) {
	clock := newTestClock()
	cs, _ := newMockSensor(t, clock, nil)
	cs.Sync()

	cs.MqttHandle(&paho.Publish{Topic: "dhtkit/attic/cmd", Payload: []byte("reset")})
	assertReport(t, cs.Report(), false, dht.InvalidReading, dht.InvalidReading, dht.InvalidValue)
	if cs.Report().State != "idle" {
		t.Errorf("got state %q after reset", cs.Report().State)
	}

	// reset clears the pacing too
	if err := cs.Sync(); err != nil {
		t.Fatal(err)
	}
	assertReport(t, cs.Report(), true, 55, 26, dht.OK)

	cs.MqttHandle(&paho.Publish{Topic: "dhtkit/attic/cmd", Payload: []byte("explode")})
	assertReport(t, cs.Report(), true, 55, 26, dht.OK)
}

func TestClimateSensorVariantFrame(t *testing.T) {
	clock := newTestClock()
	md := &drivers.MockIoDriver{Frames: map[uint16][]int{7: {0x02, 0x8C, 0x01, 0x5F, 0xEE}}}
	md.Setup(context.Background(), []uint16{7}, nil)

	cs := &ClimateSensor{Id: "porch", DriverName: "mock_driver", Pin: 7, Variant: "am2302", TimeoutLoops: 1000, DisableHomeKit: true, now: clock.now}
	if err := cs.Init(md); err != nil {
		t.Fatal(err)
	}
	if cs.GetHk() != nil {
		t.Error("HomeKit accessory created while disabled")
	}
	if cs.sensor.TimeoutBudget() != 1000 {
		t.Errorf("got budget %d", cs.sensor.TimeoutBudget())
	}
	if err := cs.Sync(); err != nil {
		t.Fatal(err)
	}
	assertReport(t, cs.Report(), true, 65.2, 35.1, dht.OK)
}

// faultyLine is a mock line that reports a hardware error after a capture.
type faultyLine struct {
	*drivers.MockLine
	err error
}

func (fl *faultyLine) Err() error {
	return fl.err
}

type faultyDriver struct {
	*drivers.MockIoDriver
	line *faultyLine
}

func (fd *faultyDriver) GetLine(pin uint16) (drivers.TimedLine, error) {
	return fd.line, nil
}

func TestClimateSensorLineError(t *testing.T) {
	clock := newTestClock()
	fd := &faultyDriver{
		MockIoDriver: &drivers.MockIoDriver{},
		line:         &faultyLine{MockLine: drivers.NewMockLine(drivers.MockFrame(55, 0, 26, 0))},
	}

	cs := &ClimateSensor{Id: "attic", DriverName: "mock_driver", Pin: 4, Variant: "dht11", DisableHomeKit: true, now: clock.now}
	if err := cs.Init(fd); err != nil {
		t.Fatal(err)
	}

	fd.line.err = errors.New("pin read failed")
	if err := cs.Sync(); err == nil {
		t.Fatal("expected the line error")
	}
	assertReport(t, cs.Report(), false, dht.InvalidReading, dht.InvalidReading, dht.ErrorTimeout)

	// a checksum failure afterwards has nothing to hold on to
	fd.line.err = nil
	fd.line.SetFrame(dht.RawSample{60, 0, 30, 0, 1})
	clock.advance(3 * time.Second)
	if err := cs.Sync(); !errors.Is(err, dht.ErrChecksum) {
		t.Fatalf("got %v want checksum error", err)
	}
	assertReport(t, cs.Report(), false, dht.InvalidReading, dht.InvalidReading, dht.ErrorChecksum)
}
