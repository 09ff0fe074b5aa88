package config

import (
	"touchcode-go/bus"
)

const configPrefix = "config"

// TopicSensor is config/touch/<name>.
func TopicSensor(name string) bus.Topic { return bus.T(configPrefix, "touch", name) }

// Publish publishes each sensor entry as a retained message so that late
// subscribers see the active configuration.
func Publish(conn *bus.Connection, cfg *Config) {
	if cfg == nil {
		return
	}
	for _, s := range cfg.Touch.Sensors {
		conn.Publish(conn.NewMessage(TopicSensor(s.Name), s, true))
	}
}
