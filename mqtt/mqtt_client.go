package mqtt

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

type MqttHandler interface {
	MqttHandle(pub *paho.Publish)
	MqttSubscribeTopic() string
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

type MqttClient struct {
	config autopaho.ClientConfig
	conn   *autopaho.ConnectionManager
	logger *log.Logger

	lock     sync.RWMutex
	handlers map[string]MqttHandler
}

func (mc *MqttClient) Publish(topic string, payload []byte) (err error) {
	if mc.conn == nil {
		return errors.New("mqtt client not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = mc.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to publish on %s", topic)
	}
	return
}

func (mc *MqttClient) topics() (topics []string) {
	mc.lock.RLock()
	defer mc.lock.RUnlock()

	for topic := range mc.handlers {
		topics = append(topics, topic)
	}
	return
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")

	subs := []paho.SubscribeOptions{}
	for _, topic := range mc.topics() {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: topic,
		})
	}
	if len(subs) == 0 {
		return
	}

	mc.logger.Debug("subscribing mqtt", "subs", subs)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		mc.logger.Error("Failed to subscribe to topics", "err", err)
	}
}

func (mc *MqttClient) onConnError(err error) {
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker")
}

// dispatch hands the message to the handler subscribed to its topic.
func (mc *MqttClient) dispatch(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil {
		return false, nil
	}

	mc.lock.RLock()
	handler, found := mc.handlers[pr.Packet.Topic]
	mc.lock.RUnlock()

	if !found {
		mc.logger.Debug("no handler for mqtt message", "topic", pr.Packet.Topic)
		return false, nil
	}

	handler.MqttHandle(pr.Packet)
	return true, nil
}

func (mc *MqttClient) setHandlers(handlers []MqttHandler) error {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	mc.handlers = make(map[string]MqttHandler)
	for _, h := range handlers {
		topic := h.MqttSubscribeTopic()
		if len(topic) == 0 || strings.ContainsAny(topic, "+#") {
			return errors.Errorf("invalid mqtt subscribe topic %q", topic)
		}
		if _, dup := mc.handlers[topic]; dup {
			return errors.Errorf("mqtt topic %s handled twice", topic)
		}
		mc.logger.Debug("setting up mqtt topics config", "topic", topic)
		mc.handlers[topic] = h
	}
	return nil
}

func (mc *MqttClient) Connect(handlers []MqttHandler) (err error) {
	err = mc.setHandlers(handlers)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeoutSeconds*time.Second)
	defer cancel()

	mc.logger.Debug("NewConnection")
	// the connection manager keeps reconnecting on its own, it must outlive ctx
	mc.conn, err = autopaho.NewConnection(context.Background(), mc.config)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt connection")
		return
	}

	err = mc.conn.AwaitConnection(ctx)
	mc.logger.Debug("AwaitConnection done", "err", err)
	if err != nil {
		err = errors.Wrap(err, "mqtt broker not reached")
	}

	return
}

func (mc *MqttClient) Disconnect(ctx context.Context) error {
	mc.lock.Lock()
	mc.handlers = nil
	mc.lock.Unlock()

	if mc.conn == nil {
		return nil
	}
	return mc.conn.Disconnect(ctx)
}

func NewMqttClient(broker string, clientId string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		err = errors.Wrapf(err, "invalid mqtt broker url %s", broker)
		return
	}
	if len(addr.Scheme) == 0 || len(addr.Host) == 0 {
		err = errors.Errorf("mqtt broker url %s needs scheme and host", broker)
		return
	}

	mc = &MqttClient{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "MqttClient",
			Level:  log.GetLevel(),
		}),
		handlers: make(map[string]MqttHandler),
	}

	mc.config = autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{addr},
		KeepAlive:                     20,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp:                mc.onConnUp,
		OnConnectError:                mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				mc.dispatch,
			},
		},
	}

	return
}
