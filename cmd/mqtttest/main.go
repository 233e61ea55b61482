package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/dhtkit/mqtt"
)

const clientID = "dhtkit-probe"

var (
	broker  = flag.String("broker", "mqtt://127.0.0.1:1883", "mqtt broker url")
	prefix  = flag.String("prefix", "dhtkit", "topic prefix of the dhtkit instance")
	sensor  = flag.String("sensor", "", "sensor id to probe")
	command = flag.String("cmd", "read", "command sent to the sensor: read or reset")
	wait    = flag.Duration("wait", 10*time.Second, "how long to wait for a reading")
)

type Handler struct {
	topic    string
	received chan []byte
}

func (h *Handler) MqttSubscribeTopic() string {
	return h.topic
}

func (h *Handler) MqttHandle(pub *paho.Publish) {
	log.Debug("received mqtt message from", "topic", pub.Topic)
	select {
	case h.received <- pub.Payload:
	default:
	}
}

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	if len(*sensor) == 0 {
		log.Fatal("sensor id is required")
	}

	mc, err := mqtt.NewMqttClient(*broker, clientID)
	if err != nil {
		log.Fatal("failed to create mqtt client", "error", err)
	}

	readings := &Handler{
		topic:    fmt.Sprintf("%s/%s/reading", *prefix, *sensor),
		received: make(chan []byte, 1),
	}

	err = mc.Connect([]mqtt.MqttHandler{readings})
	if err != nil {
		log.Fatal("failed to connect to mqtt broker", "error", err)
	}
	log.Info("mqtt client connected")

	cmdTopic := fmt.Sprintf("%s/%s/cmd", *prefix, *sensor)
	err = mc.Publish(cmdTopic, []byte(*command))
	if err != nil {
		log.Fatal("failed to send command", "topic", cmdTopic, "error", err)
	}

	select {
	case payload := <-readings.received:
		fmt.Println(string(payload))
	case <-time.After(*wait):
		log.Error("no reading received", "topic", readings.topic, "wait", *wait)
	}
}
