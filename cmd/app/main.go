package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/dhtkit"
)

const defaultSyncInterval = "1s"

var (
	Version string
	Build   string

	config       = flag.String("config", "config.json", "path of the configuration file")
	flagInstall  = flag.Bool("install", false, "Install service in os")
	syncInterval = flag.String("sync", defaultSyncInterval, "sensor sync interval (time.Duration)")
	logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")

	dhtService = servicemaker.ServiceMaker{
		User:               "dhtkit",
		UserGroups:         []string{"gpio"},
		ServicePath:        "/etc/systemd/system/dhtkit.service",
		ServiceDescription: "dhtkit service: DHT temperature and humidity sensors for HomeKit, MQTT and InfluxDB. github.com/hubertat/dhtkit",
		ExecDir:            "/srv/dhtkit",
		ExecName:           "dhtkit",
	}
)

func main() {
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal("invalid log level", "level", *logLevel, "err", err)
	}
	log.SetLevel(level)
	log.Info("dhtkit started", "version", Version, "build", Build)

	if *flagInstall {
		err := dhtService.InstallService()
		if err != nil {
			panic(err)
		}
		log.Info("service installed!")
		return
	}

	syncDuration, err := time.ParseDuration(*syncInterval)
	if err != nil {
		panic(err)
	}

	dk := &dhtkit.DhtKit{}
	configFile, err := os.Open(*config)
	if err != nil {
		log.Fatal("can't find/open config file, will terminate", "path", *config, "err", err)
	}
	cBuff, err := io.ReadAll(configFile)
	configFile.Close()
	if err != nil {
		log.Fatal("failed reading config file", "err", err)
	}
	err = json.Unmarshal(cBuff, dk)
	if err != nil {
		log.Fatal("failed unmarshalling json config", "err", err)
	}

	ctx, cancel := dhtkit.NotifyContext(context.Background())
	defer cancel()

	log.Info("will init dhtkit drivers...")
	err = dk.InitDrivers(ctx)
	defer dk.Close()
	if err != nil {
		log.Fatal("drivers init failed", "err", err)
	}
	log.Info("will init dhtkit sensors...")
	err = dk.InitSensors()
	if err != nil {
		log.Fatal("sensors init failed", "err", err)
	}

	dk.PrintIoStatus(os.Stdout)

	if dk.Display != nil {
		err = dk.InitDisplay(nil)
		if err != nil {
			log.Error("display init failed, continuing without it", "err", err)
		} else {
			go dk.StartBoard(ctx)
		}
	}

	if len(dk.MqttBroker) > 0 {
		err = dk.InitMqtt()
		if err != nil {
			log.Error("mqtt init failed, continuing without it", "err", err)
		}
	}

	if dk.Influx != nil {
		err = dk.InitInflux()
		if err != nil {
			log.Error("influx init failed, continuing without it", "err", err)
		}
	}

	if len(dk.HttpAddr) > 0 {
		go func() {
			err := dk.StartHttp(ctx)
			if err != nil {
				log.Error("http status server stopped", "err", err)
			}
		}()
	}

	if len(dk.HkPin) == 8 {
		log.Info("Starting with HomeKit server")

		go dk.StartTicker(ctx, syncDuration)
		err = dk.StartHomeKit(ctx, Version)
		if err != nil {
			log.Error("HomeKit server stopped", "err", err)
		}
	} else {
		log.Info("HomeKit not configured, disabled")
		dk.StartTicker(ctx, syncDuration)
	}
}
