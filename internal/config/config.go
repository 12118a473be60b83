// internal/config/config.go
// Package config loads the engine configuration from config.yaml, falling
// back to defaults when the file is absent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StoreSettings carries the default room settings applied at room creation.
type StoreSettings struct {
	RoundTime    int `yaml:"round_time"`
	MaxPlayers   int `yaml:"max_players"`
	TurnDuration int `yaml:"turn_duration"`
	TurnGrace    int `yaml:"turn_grace"`
}

// RedisRoomStore groups the room-store block of config.yaml.
type RedisRoomStore struct {
	Settings StoreSettings `yaml:"settings"`
}

// Config is the full engine configuration.
type Config struct {
	TimerTickSeconds int            `yaml:"timer_tick_seconds"`
	RedisRoomStore   RedisRoomStore `yaml:"redis_room_store"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TimerTickSeconds: 1,
		RedisRoomStore: RedisRoomStore{
			Settings: StoreSettings{
				RoundTime:    60,
				MaxPlayers:   8,
				TurnDuration: 30,
				TurnGrace:    60,
			},
		},
	}
}

// Load reads config.yaml from path. A missing file yields Default();
// a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
