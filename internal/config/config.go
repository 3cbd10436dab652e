package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Policy  PolicyConfig  `yaml:"policy"`
	Anomaly AnomalyConfig `yaml:"anomaly"`
	Admin   AdminConfig   `yaml:"admin"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
}

type PolicyConfig struct {
	TabSwitchLimit  int           `yaml:"tab_switch_limit"`
	TabSwitchWindow time.Duration `yaml:"tab_switch_window"`
	InactivityLimit time.Duration `yaml:"inactivity_limit"`
}

type AnomalyConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	RedisURL string        `yaml:"redis_url"`
	Channel  string        `yaml:"channel"`
}

type AdminConfig struct {
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Session: SessionConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  30 * time.Second,
		},
		Policy: PolicyConfig{
			TabSwitchLimit:  3,
			TabSwitchWindow: 60 * time.Second,
			InactivityLimit: 30 * time.Second,
		},
		Anomaly: AnomalyConfig{
			Timeout: 5 * time.Second,
			Channel: "session_events",
		},
		Admin: AdminConfig{
			SnapshotInterval:  5 * time.Second,
			BroadcastThrottle: 100 * time.Millisecond,
		},
	}
}

// Load reads the YAML config at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
