package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileConfig mirrors the JSON/YAML config layout. Durations are plain
// millisecond integers so config files stay readable.
type FileConfig struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Receipt ReceiptConfig `json:"receipt" mapstructure:"receipt"`
	Rooms   []string      `json:"rooms" mapstructure:"rooms"`
}

// ServerConfig describes the realtime endpoint and transport knobs.
type ServerConfig struct {
	URL                  string `json:"url" mapstructure:"url"`
	Token                string `json:"token" mapstructure:"token"`
	PrincipalID          string `json:"principalId" mapstructure:"principalId"`
	ConnectTimeoutMS     int    `json:"connectTimeoutMs" mapstructure:"connectTimeoutMs"`
	CallTimeoutMS        int    `json:"callTimeoutMs" mapstructure:"callTimeoutMs"`
	PingIntervalMS       int    `json:"pingIntervalMs" mapstructure:"pingIntervalMs"`
	ReconnectBaseMS      int    `json:"reconnectBaseMs" mapstructure:"reconnectBaseMs"`
	MaxReconnectAttempts int    `json:"maxReconnectAttempts" mapstructure:"maxReconnectAttempts"`
	QueueSize            int    `json:"queueSize" mapstructure:"queueSize"`
}

// ReceiptConfig describes read-receipt debouncing.
type ReceiptConfig struct {
	DebounceMS int `json:"debounceMs" mapstructure:"debounceMs"`
}

// ServerSpec is the resolved transport configuration.
type ServerSpec struct {
	URL                  string
	Token                string
	PrincipalID          string
	ConnectTimeout       time.Duration
	CallTimeout          time.Duration
	PingInterval         time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	QueueSize            int
}

// ReceiptSpec is the resolved receipt configuration.
type ReceiptSpec struct {
	Debounce time.Duration
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Server  ServerSpec
	Receipt ReceiptSpec
	Rooms   []string
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a file config and applies defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Server.URL == "" {
		return Loaded{}, fmt.Errorf("server url is empty")
	}
	if cfg.Server.MaxReconnectAttempts < 0 {
		return Loaded{}, fmt.Errorf("maxReconnectAttempts must be >= 0")
	}
	return Loaded{
		Server: ServerSpec{
			URL:                  cfg.Server.URL,
			Token:                cfg.Server.Token,
			PrincipalID:          cfg.Server.PrincipalID,
			ConnectTimeout:       millis(cfg.Server.ConnectTimeoutMS, 10_000),
			CallTimeout:          millis(cfg.Server.CallTimeoutMS, 30_000),
			PingInterval:         millis(cfg.Server.PingIntervalMS, 30_000),
			ReconnectBase:        millis(cfg.Server.ReconnectBaseMS, 500),
			MaxReconnectAttempts: defaultInt(cfg.Server.MaxReconnectAttempts, 5),
			QueueSize:            defaultInt(cfg.Server.QueueSize, 1024),
		},
		Receipt: ReceiptSpec{
			Debounce: millis(cfg.Receipt.DebounceMS, 1_000),
		},
		Rooms: cfg.Rooms,
	}, nil
}

func millis(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Millisecond
}

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
