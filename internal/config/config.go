// Package config holds the sandbox harness settings. Values come from a
// JSON file layered over defaults, and command-line flags override both.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

type (
	Mode          string
	TransportType string
)

const (
	ModeServer Mode = "server"
	ModeClient Mode = "client"
	ModeKeygen Mode = "keygen"
	// ModeTrust enrolls or revokes peers in the MongoDB peer store.
	ModeTrust Mode = "trust"

	TransportTCP       TransportType = "tcp"
	TransportWebSocket TransportType = "ws"
)

const (
	DefaultHost             = "localhost"
	DefaultPort             = 8081
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDialAttempts     = 5
	DefaultMongoDatabase    = "vpnhs"
	DefaultTunnelPath       = "/tunnel"
)

// Duration reads "10s" style strings from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Config struct {
	Mode      Mode          `json:"mode"`
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Transport TransportType `json:"transport"`

	KeyFile    string   `json:"keyFile"`
	TrustFiles []string `json:"trustFiles"`

	HandshakeTimeout Duration `json:"handshakeTimeout"`
	DialAttempts     uint64   `json:"dialAttempts"`
	Once             bool     `json:"once"`
	Message          string   `json:"message"`
	// Upstream is a TCP address the server relays tunnel payloads to.
	// Empty means payloads are echoed back.
	Upstream string `json:"upstream"`

	RedisAddr     string `json:"redisAddr"`
	MongoURI      string `json:"mongoURI"`
	MongoDatabase string `json:"mongoDatabase"`
	MetricsAddr   string `json:"metricsAddr"`

	LogLevel string `json:"logLevel"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		Transport:        TransportTCP,
		HandshakeTimeout: Duration(DefaultHandshakeTimeout),
		DialAttempts:     DefaultDialAttempts,
		MongoDatabase:    DefaultMongoDatabase,
		LogLevel:         "info",
		TrustFiles:       make([]string, 0),
	}
}

// ParseConfig reads path over the defaults. Keys missing from the file keep
// their default values.
func ParseConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer file.Close()

	config := GetDefaultConfig()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeServer, ModeClient, ModeKeygen, ModeTrust:
	case "":
		return errors.New("mode is required")
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}

	if c.Mode == ModeTrust {
		if c.MongoURI == "" {
			return errors.New("trust needs a mongo uri")
		}
		return nil
	}
	if c.KeyFile == "" {
		return errors.New("key file is required")
	}
	if c.Mode == ModeKeygen {
		return nil
	}

	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("invalid transport type %q", c.Transport)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	if len(c.TrustFiles) == 0 && c.MongoURI == "" {
		return errors.New("no trust source: give a trust file or a mongo uri")
	}
	if c.Upstream != "" {
		if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
			return fmt.Errorf("invalid upstream %q: %w", c.Upstream, err)
		}
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("handshake timeout must not be negative")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TunnelURL is where a WebSocket client connects.
func (c *Config) TunnelURL() string {
	return "ws://" + c.Addr() + DefaultTunnelPath
}
