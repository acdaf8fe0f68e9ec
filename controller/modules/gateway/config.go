package gateway

import "time"

type Config struct {
	Command     string        `yaml:"command" json:"command"`
	Telemetry   []string      `yaml:"telemetry" json:"telemetry"`
	State       string        `yaml:"state" json:"state"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	RecvTimeout time.Duration `yaml:"recv_timeout" json:"recv_timeout"`
	MaxCommand  int           `yaml:"max_command" json:"max_command"`
	MQTT        MQTTConfig    `yaml:"mqtt" json:"mqtt"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable" json:"enable"`
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"client_id"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		Command:     "127.0.0.1:5010",
		Telemetry:   []string{"127.0.0.1:5005", "127.0.0.1:5006"},
		State:       "127.0.0.1:6000",
		QueueSize:   32,
		RecvTimeout: time.Second,
		MaxCommand:  1024,
		MQTT: MQTTConfig{
			Broker:   "tcp://127.0.0.1:1883",
			ClientID: "pond-pi",
			Prefix:   "pond",
		},
	}
}
