package redisstream

import (
	"strings"

	"github.com/pkg/errors"
)

// Settings holds the transport configuration for turn events.
// With Redis disabled events travel over an in-process channel.
type Settings struct {
	Enabled      bool   `yaml:"enabled"`
	RedisEnabled bool   `yaml:"redis_enabled"`
	Addr         string `yaml:"redis_addr"`
	Group        string `yaml:"redis_group"`
	Consumer     string `yaml:"redis_consumer"`
	Topic        string `yaml:"topic"`
}

const DefaultTopic = "docchat.turns"

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "docchat",
		Consumer: "docchat-1",
		Topic:    DefaultTopic,
	}
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Topic) == "" {
		return errors.New("events: empty topic")
	}
	if s.RedisEnabled && strings.TrimSpace(s.Addr) == "" {
		return errors.New("events: redis enabled without address")
	}
	return nil
}
