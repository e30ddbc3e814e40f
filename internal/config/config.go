// Package config provides YAML-based configuration loading for coderelay.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level coderelay configuration, loaded from coderelay.yaml.
type Config struct {
	Platform string         `yaml:"platform"` // "discord" or "slack"
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	Piston   PistonConfig   `yaml:"piston"`
	Admins   []string       `yaml:"admins"` // platform user IDs allowed to run admin commands
	ErrorLog ErrorLogConfig `yaml:"error_log"`
	History  HistoryConfig  `yaml:"history"`
	Status   StatusConfig   `yaml:"status"`
	Update   UpdateConfig   `yaml:"update"`
	Output   OutputConfig   `yaml:"output"`
	Runs     RunsConfig     `yaml:"runs"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"` // xapp-...
	BotToken string `yaml:"bot_token"` // xoxb-...
}

// PistonConfig holds connection settings for the execution backend.
type PistonConfig struct {
	URL           string            `yaml:"url"`
	Key           string            `yaml:"key"` // Authorization header value, optional
	TimeoutSec    int               `yaml:"timeout_sec"`
	LogURL        string            `yaml:"log_url"` // fire-and-forget run log endpoint, optional
	VersionPins   map[string]string `yaml:"version_pins"`
	ExtraAliases  map[string]string `yaml:"extra_aliases"`
	AttachmentCap int               `yaml:"attachment_cap"` // max attachment size in bytes
}

// ErrorLogConfig bounds the in-memory error log.
type ErrorLogConfig struct {
	MaxRecords int `yaml:"max_records"`
	TTLHours   int `yaml:"ttl_hours"`
}

// HistoryConfig selects and configures the run-history database.
type HistoryConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// StatusConfig configures the status HTTP server. Port 0 disables it.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// UpdateConfig points the update command at the repo this build came from.
type UpdateConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Token string `yaml:"token"` // optional, raises the GitHub API rate limit
}

// OutputConfig bounds rendered run output.
type OutputConfig struct {
	MaxLines int `yaml:"max_lines"`
	MaxChars int `yaml:"max_chars"`
}

// RunsConfig bounds concurrent run handling.
type RunsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Piston.URL == "" {
		c.Piston.URL = "https://emkc.org/api/v2/piston"
	}
	if c.Piston.TimeoutSec == 0 {
		c.Piston.TimeoutSec = 15
	}
	if c.Piston.AttachmentCap == 0 {
		c.Piston.AttachmentCap = 64 * 1024
	}
	if c.ErrorLog.MaxRecords == 0 {
		c.ErrorLog.MaxRecords = 50
	}
	if c.ErrorLog.TTLHours == 0 {
		c.ErrorLog.TTLHours = 72
	}
	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.Driver == "sqlite" && c.History.Path == "" {
		c.History.Path = "coderelay.db"
	}
	if c.History.Driver == "mysql" {
		if c.History.Host == "" {
			c.History.Host = "127.0.0.1"
		}
		if c.History.Port == 0 {
			c.History.Port = 3306
		}
		if c.History.User == "" {
			c.History.User = "root"
		}
	}
	if c.Output.MaxLines == 0 {
		c.Output.MaxLines = 30
	}
	if c.Output.MaxChars == 0 {
		c.Output.MaxChars = 1900
	}
	if c.Runs.MaxConcurrent == 0 {
		c.Runs.MaxConcurrent = 8
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	case "":
		errs = append(errs, "platform is required")
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}
	if c.History.Driver != "sqlite" && c.History.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("unsupported history.driver %q", c.History.Driver))
	}
	if c.History.Driver == "mysql" && c.History.Database == "" {
		errs = append(errs, "history.database is required for mysql")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsAdmin reports whether the given platform user ID is a configured admin.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}
