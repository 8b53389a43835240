package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/thinq/internal/locale"
)

const (
	SchemaVersion          = 1
	DefaultPath            = "/etc/thinq/config.yaml"
	DefaultHTTPAddr        = "0.0.0.0:8080"
	DefaultStateFile       = "/var/lib/thinq/session.json"
	DefaultBlobPrefix      = "thinq/session"
	DefaultPollInterval    = 30 * time.Second
	MinPollInterval        = 25 * time.Second
	DefaultBackoffMax      = 10 * time.Minute
	DefaultRequestsMinute  = 60
	DefaultMQTTTopicPrefix = "thinq"
)

// Config is the daemon configuration, loaded from YAML.
type Config struct {
	SchemaVersion int `yaml:"schema_version"`

	Core    CoreConfig    `yaml:"core"`
	Account AccountConfig `yaml:"account"`
	Blob    *BlobConfig   `yaml:"blob,omitempty"`
	Poll    PollConfig    `yaml:"poll"`
	MQTT    *MQTTConfig   `yaml:"mqtt,omitempty"`
}

type CoreConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AccountConfig binds the LG account session to a country and language.
type AccountConfig struct {
	Country   string `yaml:"country"`
	Language  string `yaml:"language"`
	StateFile string `yaml:"state_file"`
	// GatewayURL overrides service discovery, for tests and regional mirrors.
	GatewayURL string `yaml:"gateway_url,omitempty"`
}

// BlobConfig mirrors the session state file to S3-compatible storage so a
// reinstalled host can resume without re-running the login flow.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
	Region        string `yaml:"region,omitempty"`
}

type PollConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BackoffMax time.Duration `yaml:"backoff_max"`
	// MaxRequestsMinute caps outbound API calls across all devices.
	MaxRequestsMinute int `yaml:"max_requests_minute"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Account.StateFile == "" {
		cfg.Account.StateFile = DefaultStateFile
	}
	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = DefaultPollInterval
	}
	if cfg.Poll.BackoffMax == 0 {
		cfg.Poll.BackoffMax = DefaultBackoffMax
	}
	if cfg.Poll.MaxRequestsMinute == 0 {
		cfg.Poll.MaxRequestsMinute = DefaultRequestsMinute
	}
	if cfg.MQTT != nil {
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "thinqd"
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Account.Country == "" {
		return fmt.Errorf("account.country is required")
	}
	if _, err := locale.Parse(cfg.Account.Country, cfg.Account.Language); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if cfg.Account.StateFile == "" {
		return fmt.Errorf("account.state_file is required")
	}

	if cfg.Blob != nil {
		if cfg.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if cfg.Blob.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	if cfg.Poll.Interval < MinPollInterval {
		return fmt.Errorf("poll.interval must be at least %s", MinPollInterval)
	}
	if cfg.Poll.BackoffMax < cfg.Poll.Interval {
		return fmt.Errorf("poll.backoff_max must be at least poll.interval")
	}
	if cfg.Poll.MaxRequestsMinute < 1 {
		return fmt.Errorf("poll.max_requests_minute must be positive")
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	return nil
}

// Locale resolves the validated account locale.
func (c *Config) Locale() locale.Locale {
	loc, _ := locale.Parse(c.Account.Country, c.Account.Language)
	return loc
}
