package dhtkit

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/dhtkit/dht"
	"github.com/hubertat/dhtkit/drivers"
)

const oldDataDuration = 10 * time.Minute
const minReadInterval = 2 * time.Second
const failureBackoff = 500 * time.Millisecond
const maxReadInterval = 30 * time.Second
const calibrationRounds = 8

// ClimateSensor is one configured DHT sensor. It is the only owner of its
// dht.Sensor; every other consumer works on Report snapshots.
type ClimateSensor struct {
	Id               string
	Name             string
	DriverName       string
	Pin              uint16
	Variant          string
	TimeoutLoops     uint16
	CalibrateTimeout bool
	Tags             map[string]string
	DisableHomeKit   bool

	variant  dht.Variant
	sensor   *dht.Sensor
	line     drivers.TimedLine
	uniqueId uint64
	topic    string
	now      func() time.Time
	logger   *log.Logger

	lock      sync.Mutex
	report    Report
	failures  int
	nextRead  time.Time
	forceRead bool

	hkA        *accessory.A
	hkTemp     *service.TemperatureSensor
	hkHumidity *service.HumiditySensor
	hkFaults   []*characteristic.StatusFault
}

// Report is a snapshot of the last read of a sensor.
type Report struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	Variant     string    `json:"variant"`
	Valid       bool      `json:"valid"`
	Stale       bool      `json:"stale"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
	Code        int16     `json:"code"`
	Status      string    `json:"status"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	ReadAt      time.Time `json:"read_at"`
	AttemptAt   time.Time `json:"attempt_at"`
}

func (r Report) ErrorCode() dht.ErrorCode {
	return dht.ErrorCode(r.Code)
}

// lineErrer is implemented by lines that collect hardware errors during a
// capture.
type lineErrer interface {
	Err() error
}

func (cs *ClimateSensor) GetDriverName() string {
	return cs.DriverName
}

func (cs *ClimateSensor) GetId() string {
	return cs.Id
}

func (cs *ClimateSensor) GetTags() map[string]string {
	return cs.Tags
}

func (cs *ClimateSensor) GetUniqueId() uint64 {
	return cs.uniqueId
}

func (cs *ClimateSensor) GetVariant() dht.Variant {
	return cs.variant
}

func retryInterval(failures int) time.Duration {
	interval := minReadInterval + time.Duration(failures)*failureBackoff
	if interval > maxReadInterval {
		return maxReadInterval
	}
	return interval
}

func (cs *ClimateSensor) Init(driver drivers.IoDriver) (err error) {
	if len(cs.Id) == 0 {
		return errors.New("sensor id is required")
	}
	if strings.ContainsAny(cs.Id, "/+# ") {
		return errors.Errorf("sensor id %q contains characters not allowed in topics and urls", cs.Id)
	}

	cs.variant, err = dht.ParseVariant(cs.Variant)
	if err != nil {
		return errors.Wrapf(err, "sensor %s", cs.Id)
	}

	cs.line, err = driver.GetLine(cs.Pin)
	if err != nil {
		return errors.Wrapf(err, "sensor %s failed to get line %d from %s", cs.Id, cs.Pin, driver)
	}

	if cs.now == nil {
		cs.now = time.Now
	}
	cs.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "sensor " + cs.Id,
		Level:  log.GetLevel(),
	})

	budget := cs.TimeoutLoops
	if budget == 0 && cs.CalibrateTimeout {
		budget = dht.MeasureBudget(cs.line, cs.line, calibrationRounds)
		cs.logger.Info("calibrated timeout budget", "loops", budget)
	}
	cs.sensor = dht.New(cs.Pin, cs.line, cs.line, dht.WithTimeoutBudget(budget))
	cs.uniqueId = driver.GetUniqueId(cs.Pin)

	cs.report = Report{
		Id:          cs.Id,
		Name:        cs.Name,
		Variant:     cs.variant.String(),
		Humidity:    dht.InvalidReading,
		Temperature: dht.InvalidReading,
		Code:        int16(dht.InvalidValue),
		Status:      dht.InvalidValue.String(),
		State:       dht.Idle.String(),
	}

	if !cs.DisableHomeKit {
		cs.initHk(driver)
	}

	return nil
}

func (cs *ClimateSensor) initHk(driver drivers.IoDriver) {
	name := cs.Name
	if len(name) == 0 {
		name = cs.Id
	}
	info := accessory.Info{
		Name:         name,
		SerialNumber: fmt.Sprintf("climate_sensor:%s:%d:%s", driver, cs.Pin, cs.Id),
		Manufacturer: homeKitBridgeAuthor,
		Model:        cs.variant.String(),
		Firmware:     dht.Version,
	}

	thermometer := accessory.NewTemperatureSensor(info)
	cs.hkA = thermometer.A
	cs.hkTemp = thermometer.TempSensor
	cs.hkTemp.CurrentTemperature.SetMinValue(-40)
	cs.hkTemp.CurrentTemperature.SetMaxValue(80)

	cs.hkHumidity = service.NewHumiditySensor()
	cs.hkA.AddS(cs.hkHumidity.S)

	// a characteristic belongs to a single service
	for _, s := range []*service.S{cs.hkTemp.S, cs.hkHumidity.S} {
		fault := characteristic.NewStatusFault()
		fault.SetValue(characteristic.StatusFaultGeneralFault)
		s.AddC(fault.C)
		cs.hkFaults = append(cs.hkFaults, fault)
	}
}

func (cs *ClimateSensor) GetHk() *accessory.A {
	return cs.hkA
}

// Sync reads the sensor when its retry interval passed or a read was
// requested. It returns nil when no read was due.
func (cs *ClimateSensor) Sync() error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	now := cs.now()
	if !cs.forceRead && now.Before(cs.nextRead) {
		cs.syncHk(now)
		return nil
	}
	cs.forceRead = false

	code := cs.sensor.Read(cs.variant)
	err := code.Err()
	if errLine, ok := cs.line.(lineErrer); ok {
		if lineErr := errLine.Err(); lineErr != nil && err == nil {
			// the frame came over a faulty line, drop it like a timeout
			cs.sensor.Reset()
			code = dht.ErrorTimeout
			err = lineErr
		}
	}

	cs.report.AttemptAt = now
	cs.report.Code = int16(code)
	cs.report.Status = code.String()
	cs.report.State = cs.sensor.State().String()

	reading, valid := cs.sensor.Reading()
	if code != dht.OK {
		cs.failures++
		valid = valid && code == dht.ErrorChecksum
	} else {
		cs.failures = 0
		cs.report.ReadAt = now
	}
	cs.report.Failures = cs.failures
	cs.report.Valid = valid
	if valid {
		cs.report.Humidity = reading.Humidity
		cs.report.Temperature = reading.Temperature
	} else {
		cs.report.Humidity = dht.InvalidReading
		cs.report.Temperature = dht.InvalidReading
	}
	cs.nextRead = now.Add(retryInterval(cs.failures))
	cs.syncHk(now)

	if err != nil {
		cs.logger.Debug("read failed", "code", code, "failures", cs.failures, "state", cs.report.State)
		return errors.Wrapf(err, "failed to read sensor %s (%s on pin %d)", cs.Id, cs.variant, cs.Pin)
	}
	cs.logger.Debug("read ok", "humidity", reading.Humidity, "temperature", reading.Temperature)
	return nil
}

func (cs *ClimateSensor) syncHk(now time.Time) {
	if cs.hkA == nil {
		return
	}

	fault := characteristic.StatusFaultGeneralFault
	if cs.report.Valid && !cs.isStale(now) {
		fault = characteristic.StatusFaultNoFault
		cs.hkTemp.CurrentTemperature.SetValue(cs.report.Temperature)
		cs.hkHumidity.CurrentRelativeHumidity.SetValue(cs.report.Humidity)
	}
	for _, f := range cs.hkFaults {
		f.SetValue(fault)
	}
}

func (cs *ClimateSensor) isStale(now time.Time) bool {
	return cs.report.ReadAt.IsZero() || now.Sub(cs.report.ReadAt) > oldDataDuration
}

// Report returns a copy of the latest state.
func (cs *ClimateSensor) Report() Report {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	r := cs.report
	r.Stale = r.Valid && cs.isStale(cs.now())
	return r
}

// RequestRead makes the next Sync read regardless of the retry interval.
func (cs *ClimateSensor) RequestRead() {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.forceRead = true
}

// Reset drops the held reading and the failure count.
func (cs *ClimateSensor) Reset() {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.sensor.Reset()
	cs.failures = 0
	cs.nextRead = time.Time{}
	cs.report.Valid = false
	cs.report.Failures = 0
	cs.report.Humidity = dht.InvalidReading
	cs.report.Temperature = dht.InvalidReading
	cs.report.Code = int16(dht.InvalidValue)
	cs.report.Status = dht.InvalidValue.String()
	cs.report.State = dht.Idle.String()
	cs.syncHk(cs.now())
}

func (cs *ClimateSensor) MqttSubscribeTopic() string {
	return cs.topic
}

func (cs *ClimateSensor) MqttHandle(pub *paho.Publish) {
	command := strings.ToLower(strings.TrimSpace(string(pub.Payload)))
	switch command {
	case "read":
		cs.RequestRead()
	case "reset":
		cs.Reset()
	default:
		cs.logger.Warn("unknown mqtt command", "topic", pub.Topic, "command", command)
		return
	}
	cs.logger.Info("mqtt command", "command", command)
}
