package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"peopledesk/internal/domain"
)

// Config models peopledesk.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		DevLogin               bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Listing struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"listing"`
	Defaults struct {
		Priority domain.Priority `yaml:"priority"`
		Category domain.Category `yaml:"category"`
	} `yaml:"defaults"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pd init or create it from the default template", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Listing.DefaultLimit <= 0 {
		return fmt.Errorf("config.listing.default_limit must be positive")
	}
	if c.Listing.MaxLimit < c.Listing.DefaultLimit {
		return fmt.Errorf("config.listing.max_limit must be >= default_limit")
	}
	if !domain.ValidPriority(c.Defaults.Priority) {
		return fmt.Errorf("config.defaults.priority %q unknown", c.Defaults.Priority)
	}
	if !domain.ValidCategory(c.Defaults.Category) {
		return fmt.Errorf("config.defaults.category %q unknown", c.Defaults.Category)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "peopledesk.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: false
  dev_login: false

listing:
  default_limit: 50
  max_limit: 200

defaults:
  priority: medium
  category: general
`
