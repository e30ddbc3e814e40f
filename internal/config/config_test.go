package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
platform: discord
discord:
  bot_token: test-token
`

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Platform != "discord" {
		t.Errorf("Platform = %q, want discord", cfg.Platform)
	}
	if cfg.Discord.BotToken != "test-token" {
		t.Errorf("BotToken = %q", cfg.Discord.BotToken)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Piston.URL != "https://emkc.org/api/v2/piston" {
		t.Errorf("Piston.URL = %q", cfg.Piston.URL)
	}
	if cfg.Piston.TimeoutSec != 15 {
		t.Errorf("Piston.TimeoutSec = %d, want 15", cfg.Piston.TimeoutSec)
	}
	if cfg.Piston.AttachmentCap != 64*1024 {
		t.Errorf("Piston.AttachmentCap = %d", cfg.Piston.AttachmentCap)
	}
	if cfg.ErrorLog.MaxRecords != 50 {
		t.Errorf("ErrorLog.MaxRecords = %d, want 50", cfg.ErrorLog.MaxRecords)
	}
	if cfg.ErrorLog.TTLHours != 72 {
		t.Errorf("ErrorLog.TTLHours = %d, want 72", cfg.ErrorLog.TTLHours)
	}
	if cfg.History.Driver != "sqlite" {
		t.Errorf("History.Driver = %q, want sqlite", cfg.History.Driver)
	}
	if cfg.History.Path != "coderelay.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
	if cfg.Output.MaxLines != 30 {
		t.Errorf("Output.MaxLines = %d, want 30", cfg.Output.MaxLines)
	}
	if cfg.Runs.MaxConcurrent != 8 {
		t.Errorf("Runs.MaxConcurrent = %d, want 8", cfg.Runs.MaxConcurrent)
	}
}

func TestParse_MissingPlatform(t *testing.T) {
	_, err := Parse([]byte(`admins: ["1"]`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "platform is required") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_UnsupportedPlatform(t *testing.T) {
	_, err := Parse([]byte("platform: irc"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "unsupported platform") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_SlackRequiresBothTokens(t *testing.T) {
	_, err := Parse([]byte("platform: slack\nslack:\n  bot_token: xoxb-1\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "slack.app_token is required") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_MySQLRequiresDatabase(t *testing.T) {
	yml := minimalYAML + "history:\n  driver: mysql\n"
	_, err := Parse([]byte(yml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "history.database is required") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	yml := minimalYAML + "history:\n  driver: mysql\n  database: coderelay\n"
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.History.Host != "127.0.0.1" {
		t.Errorf("History.Host = %q", cfg.History.Host)
	}
	if cfg.History.Port != 3306 {
		t.Errorf("History.Port = %d", cfg.History.Port)
	}
	if cfg.History.User != "root" {
		t.Errorf("History.User = %q", cfg.History.User)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("platform: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/coderelay.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coderelay.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Platform != "discord" {
		t.Errorf("Platform = %q", cfg.Platform)
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{Admins: []string{"100", "200"}}
	if !cfg.IsAdmin("100") {
		t.Error("expected 100 to be admin")
	}
	if cfg.IsAdmin("300") {
		t.Error("did not expect 300 to be admin")
	}
	if cfg.IsAdmin("") {
		t.Error("empty user ID must not be admin")
	}
}
