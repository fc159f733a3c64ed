package infra

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults for recognized engine keys.
const (
	DefaultQueueSize             = 10000
	DefaultReconcileTimeoutSecs  = 10
	DefaultReconcilePollInterval = 1 // milliseconds
)

// VenueConfig holds connection settings for one execution venue.
type VenueConfig struct {
	Name      string `yaml:"name"`
	WSURL     string `yaml:"ws_url"`
	RestURL   string `yaml:"rest_url"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	AccountID string `yaml:"account_id"`
	// Order submissions per second allowed by the venue.
	SubmitRateLimit float64 `yaml:"submit_rate_limit"`
}

// Config holds the full application configuration. LoadConfig reads
// the YAML file, then environment variables override secrets.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		QSize int `yaml:"qsize"`
	} `yaml:"engine"`

	Reconciliation struct {
		TimeoutSecs    int `yaml:"timeout_secs"`
		PollIntervalMS int `yaml:"poll_interval_ms"`
	} `yaml:"reconciliation"`

	Venues []VenueConfig `yaml:"venues"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file. A .env file
// next to the process, when present, seeds the environment before
// overrides apply.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // optional; absence is fine

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.QSize == 0 {
		c.Engine.QSize = DefaultQueueSize
	}
	if c.Reconciliation.TimeoutSecs == 0 {
		c.Reconciliation.TimeoutSecs = DefaultReconcileTimeoutSecs
	}
	if c.Reconciliation.PollIntervalMS == 0 {
		c.Reconciliation.PollIntervalMS = DefaultReconcilePollInterval
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Engine.QSize <= 0 {
		return fmt.Errorf("engine qsize must be positive, got %d", c.Engine.QSize)
	}
	if c.Reconciliation.TimeoutSecs <= 0 {
		return fmt.Errorf("reconciliation timeout must be positive")
	}
	if c.Reconciliation.PollIntervalMS <= 0 {
		return fmt.Errorf("reconciliation poll interval must be positive")
	}
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue with empty name")
		}
		if v.WSURL != "" && !hasPrefix(v.WSURL, "ws://") && !hasPrefix(v.WSURL, "wss://") {
			return fmt.Errorf("invalid WS URL for venue %s: %s", v.Name, v.WSURL)
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	for i := range cfg.Venues {
		prefix := "TRADER_" + cfg.Venues[i].Name + "_"
		if key := os.Getenv(prefix + "KEY"); key != "" {
			cfg.Venues[i].AccessKey = key
		}
		if secret := os.Getenv(prefix + "SECRET"); secret != "" {
			cfg.Venues[i].SecretKey = secret
		}
	}
}
