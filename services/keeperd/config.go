package keeperd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kusdcore/crypto"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for keeperd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	Caller        string       `yaml:"caller"`
	PollInterval  Duration     `yaml:"poll_interval"`
	MaxPerSweep   int          `yaml:"max_per_sweep"`
	HistoryPath   string       `yaml:"history"`
	Node          NodeConfig   `yaml:"node"`
	Export        ExportConfig `yaml:"export"`
}

// NodeConfig points the keeper at the node RPC listener. The bearer token
// can be given inline, via an environment variable, or read from a file.
type NodeConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	Token          string   `yaml:"token"`
	TokenEnv       string   `yaml:"token_env"`
	TokenFile      string   `yaml:"token_file"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// ExportConfig controls sweep-history report generation.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
	Limit     int    `yaml:"limit"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Node.normalise(); err != nil {
		return cfg, fmt.Errorf("node token: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7171"
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 15 * time.Second
	}
	if cfg.MaxPerSweep <= 0 {
		cfg.MaxPerSweep = 16
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = "keeperd-history.db"
	}
	if cfg.Node.RequestTimeout.Duration == 0 {
		cfg.Node.RequestTimeout.Duration = 10 * time.Second
	}
	if cfg.Export.OutputDir == "" {
		cfg.Export.OutputDir = "keeper-reports"
	}
	if cfg.Export.Limit <= 0 {
		cfg.Export.Limit = 1000
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Node.Endpoint) == "" {
		return fmt.Errorf("node endpoint must be configured")
	}
	caller := strings.TrimSpace(cfg.Caller)
	if caller == "" {
		return fmt.Errorf("caller address must be configured")
	}
	if _, err := crypto.DecodeAddress(caller); err != nil {
		return fmt.Errorf("invalid caller address: %w", err)
	}
	return nil
}

func (n *NodeConfig) normalise() error {
	if n == nil {
		return fmt.Errorf("node configuration missing")
	}
	n.Token = strings.TrimSpace(n.Token)
	n.TokenEnv = strings.TrimSpace(n.TokenEnv)
	n.TokenFile = strings.TrimSpace(n.TokenFile)
	if n.Token != "" {
		return nil
	}
	switch {
	case n.TokenEnv != "":
		value := strings.TrimSpace(os.Getenv(n.TokenEnv))
		if value == "" {
			return fmt.Errorf("token_env %s is empty", n.TokenEnv)
		}
		n.Token = value
	case n.TokenFile != "":
		contents, err := os.ReadFile(n.TokenFile)
		if err != nil {
			return fmt.Errorf("read token_file: %w", err)
		}
		token := strings.TrimSpace(string(contents))
		if token == "" {
			return fmt.Errorf("token_file %s is empty", n.TokenFile)
		}
		n.Token = token
	default:
		return fmt.Errorf("token is required")
	}
	return nil
}
