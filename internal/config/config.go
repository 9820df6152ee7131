package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use human-readable
// values like "30s" or "2m" (yaml.v3 only decodes bare integers into
// time.Duration directly).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Server    ServerConfig    `yaml:"server"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Stats     StatsConfig     `yaml:"stats"`
}

type GatewayConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type ReconnectConfig struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	StartupRetries int      `yaml:"startup_retries"`
	ResumeWithin   Duration `yaml:"resume_within"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DispatchConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type StatsConfig struct {
	// Interval between process self-stat log lines. Zero disables sampling.
	Interval Duration `yaml:"interval"`
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Endpoint: "wss://gateway.discord.gg/?v=10&encoding=json",
		},
		Reconnect: ReconnectConfig{
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
			StartupRetries: 3,
			ResumeWithin:   Duration(2 * time.Minute),
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Dispatch: DispatchConfig{
			QueueSize: 256,
		},
		Stats: StatsConfig{
			Interval: Duration(time.Minute),
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// The token is a secret; the environment wins over the file so
	// deployments never have to write it to disk.
	if tok := os.Getenv("GATEWAY_TOKEN"); tok != "" {
		cfg.Gateway.Token = tok
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required")
	}
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway.token is required (set it in the config file or GATEWAY_TOKEN)")
	}
	if c.Reconnect.InitialBackoff <= 0 || c.Reconnect.MaxBackoff < c.Reconnect.InitialBackoff {
		return fmt.Errorf("reconnect backoff range is invalid")
	}
	return nil
}
