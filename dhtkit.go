package dhtkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/dhtkit/drivers"
	"github.com/hubertat/dhtkit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "dhtkit"
const homeKitBridgeAuthor = "github.com/hubertat"
const defaultMqttPrefix = "dhtkit"

type DhtKit struct {
	Name string

	Sensors []*ClimateSensor
	Display *Lcd

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string
	MqttPrefix string

	HttpAddr  string
	HttpToken string

	Influx *drivers.InfluxSink

	Gpio       *drivers.GpIO
	Periph     *drivers.PeriphIO
	Mcp23017   *drivers.McpIO
	FakeDriver *drivers.MockIoDriver

	ioDrivers  map[string]drivers.IoDriver
	publisher  mqtt.Publisher
	mqttClient *mqtt.MqttClient
	display    drivers.Display
	board      *MessageBoard
	ticker     *time.Ticker
	logger     *log.Logger
}

type HkThing interface {
	GetHk() *accessory.A
	GetUniqueId() uint64
}

func (dk *DhtKit) getLogger() *log.Logger {
	if dk.logger == nil {
		dk.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "dhtkit",
			Level:  log.GetLevel(),
		})
	}
	return dk.logger
}

func (dk *DhtKit) getLinePins(driverName string) (pins []uint16) {
	for _, cs := range dk.Sensors {
		if strings.EqualFold(cs.GetDriverName(), driverName) {
			pins = append(pins, cs.Pin)
		}
	}
	return
}

func (dk *DhtKit) getOutPins(driverName string) (pins []uint16) {
	if dk.Display != nil && strings.EqualFold(dk.Display.Pins.DriverName, driverName) {
		pins = append(pins, dk.Display.Pins.All()...)
	}
	return
}

func (dk *DhtKit) findDriver(name string) (drivers.IoDriver, bool) {
	for driverName, driver := range dk.ioDrivers {
		if strings.EqualFold(driverName, name) {
			return driver, true
		}
	}
	return nil, false
}

func (dk *DhtKit) InitDrivers(ctx context.Context) error {
	dk.ioDrivers = make(map[string]drivers.IoDriver)

	if dk.Gpio != nil {
		dk.ioDrivers[dk.Gpio.String()] = dk.Gpio
	}

	if dk.Periph != nil {
		dk.ioDrivers[dk.Periph.String()] = dk.Periph
	}

	if dk.Mcp23017 != nil {
		dk.ioDrivers[dk.Mcp23017.String()] = dk.Mcp23017
	}

	if dk.FakeDriver != nil {
		dk.ioDrivers[dk.FakeDriver.String()] = dk.FakeDriver
	}

	for _, cs := range dk.Sensors {
		if _, found := dk.findDriver(cs.DriverName); !found {
			return errors.Errorf("driver %s of sensor %s not configured", cs.DriverName, cs.Id)
		}
	}
	if dk.Display != nil {
		if _, found := dk.findDriver(dk.Display.Pins.DriverName); !found {
			return errors.Errorf("driver %s of display not configured", dk.Display.Pins.DriverName)
		}
	}

	for _, driver := range dk.ioDrivers {
		err := driver.Setup(ctx, dk.getLinePins(driver.String()), dk.getOutPins(driver.String()))
		if err != nil {
			return errors.Wrapf(err, "failed to setup %s driver", driver)
		}
	}

	return nil
}

func (dk *DhtKit) InitSensors() error {
	ids := make(map[string]bool)
	for _, cs := range dk.Sensors {
		if ids[cs.Id] {
			return errors.Errorf("sensor id %s used twice", cs.Id)
		}
		ids[cs.Id] = true

		driver, _ := dk.findDriver(cs.DriverName)
		if driver == nil {
			return errors.Errorf("driver %s not set up", cs.DriverName)
		}
		err := cs.Init(driver)
		if err != nil {
			return errors.Wrapf(err, "failed to init sensor")
		}
	}

	return nil
}

func (dk *DhtKit) findSensor(id string) *ClimateSensor {
	for _, cs := range dk.Sensors {
		if cs.Id == id {
			return cs
		}
	}
	return nil
}

// InitDisplay sets up the message board. The display parameter overrides
// the configured HD44780 when not nil.
func (dk *DhtKit) InitDisplay(display drivers.Display) error {
	if dk.Display == nil {
		return errors.New("display not configured")
	}

	cs := dk.findSensor(dk.Display.SensorId)
	if cs == nil {
		if len(dk.Sensors) == 0 || len(dk.Display.SensorId) > 0 {
			return errors.Errorf("display sensor %q not found", dk.Display.SensorId)
		}
		cs = dk.Sensors[0]
	}

	cols, rows := dk.Display.Cols, dk.Display.Rows
	if cols == 0 {
		cols = 16
	}
	if rows == 0 {
		rows = 2
	}

	if display == nil {
		driver, found := dk.findDriver(dk.Display.Pins.DriverName)
		if !found {
			return errors.Errorf("display driver %s not set up", dk.Display.Pins.DriverName)
		}
		lcd, err := drivers.NewHD44780(driver, dk.Display.Pins, cols, rows)
		if err != nil {
			return errors.Wrap(err, "failed to create lcd")
		}
		err = lcd.Begin()
		if err != nil {
			return errors.Wrap(err, "failed to init lcd")
		}
		display = lcd
	}

	dk.display = display
	dk.board = NewMessageBoard(display, cs.Report, dk.Display.Welcome...)
	return nil
}

// SyncSensors runs one Sync on every sensor and forwards fresh reports to
// MQTT and InfluxDB.
func (dk *DhtKit) SyncSensors(ctx context.Context) (failed int) {
	records := []drivers.InfluxRecord{}

	for _, cs := range dk.Sensors {
		before := cs.Report().AttemptAt
		err := cs.Sync()
		if err != nil {
			failed++
			dk.getLogger().Warn("sensor sync failed", "sensor", cs.Id, "err", err)
		}

		report := cs.Report()
		if report.AttemptAt.Equal(before) {
			continue
		}

		if dk.publisher != nil {
			dk.publishReport(report)
		}
		if err == nil && report.Valid {
			records = append(records, drivers.InfluxRecord{
				Sensor:      cs.Id,
				Variant:     report.Variant,
				Tags:        cs.GetTags(),
				Humidity:    report.Humidity,
				Temperature: report.Temperature,
				At:          report.ReadAt,
			})
		}
	}

	if dk.Influx != nil && dk.Influx.IsReady() && len(records) > 0 {
		err := dk.Influx.Write(ctx, records...)
		if err != nil {
			dk.getLogger().Error("influx write failed", "err", err)
		}
	}

	return
}

func (dk *DhtKit) mqttPrefix() string {
	if len(dk.MqttPrefix) == 0 {
		return defaultMqttPrefix
	}
	return strings.TrimSuffix(dk.MqttPrefix, "/")
}

func (dk *DhtKit) publishReport(report Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		dk.getLogger().Error("failed to marshal report", "sensor", report.Id, "err", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/reading", dk.mqttPrefix(), report.Id)
	err = dk.publisher.Publish(topic, payload)
	if err != nil {
		dk.getLogger().Warn("mqtt publish failed", "topic", topic, "err", err)
	}
}

func (dk *DhtKit) StartTicker(ctx context.Context, interval time.Duration) {
	dk.ticker = time.NewTicker(interval)
	defer dk.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dk.ticker.C:
			dk.SyncSensors(ctx)
		}
	}
}

// StartBoard runs the message board until ctx is done.
func (dk *DhtKit) StartBoard(ctx context.Context) error {
	if dk.board == nil {
		return errors.New("display not initialised")
	}
	dk.board.Run(ctx)
	return nil
}

func (dk *DhtKit) Close() (err error) {
	if dk.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if discErr := dk.mqttClient.Disconnect(ctx); discErr != nil {
			dk.getLogger().Warn("mqtt disconnect failed", "err", discErr)
		}
		cancel()
	}

	if dk.Influx != nil {
		dk.Influx.Close()
	}

	if dk.display != nil {
		if showErr := dk.display.Show(false); showErr != nil {
			dk.getLogger().Warn("failed to turn display off", "err", showErr)
		}
	}

	for _, driver := range dk.ioDrivers {
		if driver != nil {
			closeErr := driver.Close()
			if closeErr != nil && err == nil {
				err = errors.Wrapf(closeErr, "failed to close %s driver", driver)
			}
		}
	}

	return
}

func (dk *DhtKit) PrintIoStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== active io drivers ===")
	for driverName, driver := range dk.ioDrivers {
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| driver: %s\n", driverName)
		lines, outputs := driver.GetAllIo()
		fmt.Fprintf(writer, "| sensor lines: ")
		for _, pin := range lines {
			fmt.Fprintf(writer, "%d, ", pin)
		}
		fmt.Fprintf(writer, "\n| out pins: ")
		for _, outpin := range outputs {
			fmt.Fprintf(writer, "%d, ", outpin)
		}
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "--------")
	}
	fmt.Fprintln(writer, "=== sensors ===")
	for _, cs := range dk.Sensors {
		fmt.Fprintf(writer, "| %s (%s) %s pin %d, timeout budget %d loops\n", cs.Id, cs.GetVariant(), cs.GetDriverName(), cs.Pin, cs.sensor.TimeoutBudget())
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

func (dk *DhtKit) getHkThings() (things []HkThing) {
	for _, cs := range dk.Sensors {
		if !cs.DisableHomeKit {
			things = append(things, cs)
		}
	}
	return
}

func (dk *DhtKit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, th := range dk.getHkThings() {
		accessory := th.GetHk()
		if accessory != nil {
			if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
				accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			accessory.Id = th.GetUniqueId()
			acc = append(acc, accessory)
		}
	}

	return
}

func (dk *DhtKit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := dk.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(dk.HkDirectory) > 1 {
		store = hap.NewFsStore(dk.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, dk.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = dk.HkPin
	if len(dk.HkAddress) > 0 {
		hkServer.Addr = dk.HkAddress
	}

	if dk.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	return hkServer.ListenAndServe(ctx)
}

func (dk *DhtKit) InitMqtt() (err error) {
	if len(dk.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	clientId := dk.Name
	if len(clientId) == 0 {
		clientId = homeKitBridgeName
	}
	mc, err := mqtt.NewMqttClient(dk.MqttBroker, clientId)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	mqttHandlers := []mqtt.MqttHandler{}
	for _, cs := range dk.Sensors {
		cs.topic = fmt.Sprintf("%s/%s/cmd", dk.mqttPrefix(), cs.Id)
		mqttHandlers = append(mqttHandlers, cs)
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
		return
	}

	dk.mqttClient = mc
	dk.publisher = mc
	return
}

func (dk *DhtKit) InitInflux() error {
	if dk.Influx == nil {
		return errors.New("influx not configured")
	}
	return errors.Wrap(dk.Influx.Setup(), "failed to setup influx sink")
}

func (dk *DhtKit) StartHttp(ctx context.Context) error {
	if len(dk.HttpAddr) == 0 {
		return errors.New("http address not set")
	}
	return NewStatusServer(dk.HttpAddr, dk.HttpToken, dk.Sensors).ListenAndServe(ctx)
}

// NotifyContext returns a context cancelled on interrupt or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

var _ HkThing = (*ClimateSensor)(nil)
