package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"` // kafka, clickhouse, or none
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Stream struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	} `yaml:"stream"`
	Poll struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Category string        `yaml:"category"`
		Endpoint string        `yaml:"endpoint"`
		Symbols  []string      `yaml:"symbols"`
	} `yaml:"poll"`
	Engine    EngineConfig     `yaml:"engine"`
	Providers []CategoryConfig `yaml:"providers"`
}

// EngineConfig tunes the acquisition engine.
type EngineConfig struct {
	PrimaryOnly bool `yaml:"primary_only"`
	Breaker     struct {
		Threshold int           `yaml:"threshold"`
		Cooldown  time.Duration `yaml:"cooldown"`
	} `yaml:"breaker"`
	Retry struct {
		MaxRetries     int           `yaml:"max_retries"`
		BaseDelay      time.Duration `yaml:"base_delay"`
		RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
		MaxDelay       time.Duration `yaml:"max_delay"`
		JitterRatio    float64       `yaml:"jitter_ratio"`
	} `yaml:"retry"`
	Cache struct {
		DefaultTTL    time.Duration `yaml:"default_ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"cache"`
	Relays []RelayConfig `yaml:"relays"`
}

// RelayConfig describes one CORS relay endpoint.
type RelayConfig struct {
	Name         string `yaml:"name"`
	Endpoint     string `yaml:"endpoint"`
	EscapeTarget bool   `yaml:"escape_target"`
	UnwrapField  string `yaml:"unwrap_field"` // contents, data, or empty for raw
}

// ProviderConfig describes one upstream source.
type ProviderConfig struct {
	Name           string        `yaml:"name"`
	BaseEndpoint   string        `yaml:"base_endpoint"`
	AuthKey        string        `yaml:"auth_key"`
	AuthHeaderName string        `yaml:"auth_header_name"`
	AuthQueryParam string        `yaml:"auth_query_param"`
	RequiresProxy  bool          `yaml:"requires_proxy"`
	RequestMethod  string        `yaml:"request_method"`
	Timeout        time.Duration `yaml:"timeout"`
	Normalizer     string        `yaml:"normalizer"`
	RateLimit      struct {
		Capacity       float64       `yaml:"capacity"`
		RefillInterval time.Duration `yaml:"refill_interval"`
	} `yaml:"rate_limit"`
}

// CategoryConfig maps one data category to a primary provider and its
// ordered fallbacks.
type CategoryConfig struct {
	Name      string           `yaml:"name"`
	Mode      string           `yaml:"mode"` // failover or round_robin
	TTL       time.Duration    `yaml:"ttl"`
	Publish   bool             `yaml:"publish"`
	Primary   ProviderConfig   `yaml:"primary"`
	Fallbacks []ProviderConfig `yaml:"fallbacks"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Poll.Symbols = strings.Split(v, ",")
		c.Stream.Symbols = c.Poll.Symbols
	}
	if v := os.Getenv("STREAM_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}

	// Provider keys: PROVIDER_KEY_<UPPER_NAME> overrides auth_key.
	for i := range c.Providers {
		overrideKey(&c.Providers[i].Primary)
		for j := range c.Providers[i].Fallbacks {
			overrideKey(&c.Providers[i].Fallbacks[j])
		}
	}

	return c, nil
}

func overrideKey(p *ProviderConfig) {
	env := "PROVIDER_KEY_" + strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_"))
	if v := os.Getenv(env); v != "" {
		p.AuthKey = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Backend.Type {
	case "kafka", "clickhouse", "none":
	case "":
		return fmt.Errorf("backend.type is required")
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'none', got '%s'", c.Backend.Type)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider category is required")
	}
	seen := make(map[string]bool)
	for _, cat := range c.Providers {
		if cat.Name == "" {
			return fmt.Errorf("category name is required")
		}
		if cat.Primary.Name == "" || cat.Primary.BaseEndpoint == "" {
			return fmt.Errorf("category %s: primary provider needs name and base_endpoint", cat.Name)
		}
		switch cat.Mode {
		case "", "failover", "round_robin":
		default:
			return fmt.Errorf("category %s: mode must be 'failover' or 'round_robin'", cat.Name)
		}
		for _, p := range append([]ProviderConfig{cat.Primary}, cat.Fallbacks...) {
			if seen[p.Name] {
				return fmt.Errorf("duplicate provider name: %s", p.Name)
			}
			seen[p.Name] = true
		}
	}
	if c.Poll.Enabled {
		if c.Poll.Category == "" {
			return fmt.Errorf("poll.category is required")
		}
		if len(c.Poll.Symbols) == 0 {
			return fmt.Errorf("poll.symbols cannot be empty")
		}
	}
	if c.Stream.Enabled && c.Stream.WebSocketURL == "" {
		return fmt.Errorf("stream.websocket_url is required")
	}
	return nil
}
