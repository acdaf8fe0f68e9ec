package gateway

import (
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	TopicTelemetry = "telemetry"
	TopicState     = "state"
)

// Mirror republishes telemetry and state on an MQTT broker.
type Mirror struct {
	client mqtt.Client
	prefix string
	log    *slog.Logger
}

// NewMirror connects to the broker and keeps reconnecting after a loss.
func NewMirror(cfg MQTTConfig, log *slog.Logger) (*Mirror, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connected", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Mirror{client: client, prefix: cfg.Prefix, log: log}, nil
}

// Publish sends at QoS 0 without waiting for the broker.
func (m *Mirror) Publish(topic string, payload []byte) {
	if !m.client.IsConnectionOpen() {
		return
	}
	m.client.Publish(m.prefix+"/"+topic, 0, false, payload)
}

func (m *Mirror) Close() {
	m.client.Disconnect(250)
}
