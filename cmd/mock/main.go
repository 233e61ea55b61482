package main

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/dhtkit"
	"github.com/hubertat/dhtkit/drivers"
)

var (
	Version string
	Build   string
)

func main() {
	var err error

	log.SetLevel(log.DebugLevel)
	log.Info("dhtkit started")
	log.Info("mock instance for testing puproses, should work on MacOs")

	syncDuration := 500 * time.Millisecond
	log.Info("sync interval", "duration", syncDuration)

	dk := &dhtkit.DhtKit{}

	dk.HkPin = "88008800"
	dk.HttpAddr = "127.0.0.1:8088"

	dk.Sensors = append(dk.Sensors,
		&dhtkit.ClimateSensor{Id: "living", Name: "fake DHT11", DriverName: "mock_driver", Pin: 1, Variant: "dht11"},
		&dhtkit.ClimateSensor{Id: "porch", Name: "fake DHT22", DriverName: "mock_driver", Pin: 2, Variant: "dht22"},
	)
	dk.FakeDriver = &drivers.MockIoDriver{
		// 65.2 %RH, -15.0 °C
		Frames: map[uint16][]int{2: {0x02, 0x8C, 0x80, 0x96, 0xA4}},
	}
	dk.Display = &dhtkit.Lcd{SensorId: "living"}

	ctx, cancel := dhtkit.NotifyContext(context.Background())
	defer cancel()

	log.Info("will init dhtkit drivers...")
	err = dk.InitDrivers(ctx)
	defer dk.Close()
	if err != nil {
		panic(err)
	}
	log.Info("will init dhtkit sensors...")
	err = dk.InitSensors()
	if err != nil {
		panic(err)
	}

	console, err := drivers.NewConsoleDisplay(os.Stdout, 16, 2)
	if err != nil {
		panic(err)
	}
	err = dk.InitDisplay(console)
	if err != nil {
		panic(err)
	}

	dk.PrintIoStatus(os.Stdout)

	log.Info("starting mock with HomeKit service")

	go dk.StartTicker(ctx, syncDuration)
	go dk.StartBoard(ctx)
	go func() {
		err := dk.StartHttp(ctx)
		if err != nil {
			log.Error("http status server stopped", "err", err)
		}
	}()

	dk.HkDirectory = "./mock_homekit"
	err = dk.StartHomeKit(ctx, "mock: "+Version)
	if err != nil {
		log.Fatal("HomeKit server stopped", "err", err)
	}
}
