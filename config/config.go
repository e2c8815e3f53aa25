package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Market    Market    `toml:"Market" yaml:"market"`
	Bank      Bank      `toml:"Bank" yaml:"bank"`
	RPC       RPC       `toml:"RPC" yaml:"rpc"`
	Logging   Logging   `toml:"Logging" yaml:"logging"`
	Telemetry Telemetry `toml:"Telemetry" yaml:"telemetry"`
	Journal   Journal   `toml:"Journal" yaml:"journal"`
	Webhook   Webhook   `toml:"Webhook" yaml:"webhook"`
}

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		Market: Market{
			DataDir:        "./p2pmarket-data",
			Backend:        BackendLevelDB,
			CommissionRate: "0",
			Pairs:          []string{},
			Admins:         []Admin{},
		},
		Bank: Bank{
			FeeBps: map[string]uint32{},
		},
		RPC: RPC{
			ListenAddress:      ":8547",
			JWTIssuer:          "p2pmarket",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			ReadHeaderTimeout:  5,
		},
		Logging: Logging{
			Env:   "local",
			Level: "info",
		},
	}
}

// Load reads the configuration at path. TOML is the default format; files
// ending in .yaml or .yml are decoded as YAML. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults()
	if env := strings.TrimSpace(cfg.RPC.JWTSecretEnv); env != "" {
		if secret := os.Getenv(env); secret != "" {
			cfg.RPC.JWTSecret = secret
		}
	}
	if env := strings.TrimSpace(cfg.Webhook.SecretEnv); env != "" {
		if secret := os.Getenv(env); secret != "" {
			cfg.Webhook.Secret = secret
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(c.Market.DataDir) == "" {
		c.Market.DataDir = defaults.Market.DataDir
	}
	c.Market.Backend = strings.ToLower(strings.TrimSpace(c.Market.Backend))
	if c.Market.Backend == "" {
		c.Market.Backend = defaults.Market.Backend
	}
	if strings.TrimSpace(c.Market.CommissionRate) == "" {
		c.Market.CommissionRate = defaults.Market.CommissionRate
	}
	if c.Market.Pairs == nil {
		c.Market.Pairs = []string{}
	}
	if c.Bank.FeeBps == nil {
		c.Bank.FeeBps = map[string]uint32{}
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		c.RPC.ListenAddress = defaults.RPC.ListenAddress
	}
	if c.RPC.RateLimitPerSecond <= 0 {
		c.RPC.RateLimitPerSecond = defaults.RPC.RateLimitPerSecond
	}
	if c.RPC.RateLimitBurst <= 0 {
		c.RPC.RateLimitBurst = defaults.RPC.RateLimitBurst
	}
	if c.RPC.ReadHeaderTimeout <= 0 {
		c.RPC.ReadHeaderTimeout = defaults.RPC.ReadHeaderTimeout
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
