package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/stencil/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if !cfg.App.HTTP.Enabled() {
		t.Error("default config should serve HTTP")
	}
}

func TestFullConfig_SectionErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"templates": func(c *Config) { c.Templates.Extension = "tpl" },
		"project":   func(c *Config) { c.Project.Root = "" },
		"monitor":   func(c *Config) { c.Monitor.SettleWindow = 0 },
		"ledger":    func(c *Config) { c.Ledger.Path = "" },
		"app":       func(c *Config) { c.App.LogFormat = "xml" },
		"auth":      func(c *Config) { c.Auth.Mode = "token" },
	}
	for section, mutate := range cases {
		cfg := NewDefaultConfig()
		mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", section)
			continue
		}
		if !strings.HasPrefix(err.Error(), section) {
			t.Errorf("%s: error = %v", section, err)
		}
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	t.Setenv("STENCIL_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  log_format: text
  http:
    port: 0
project:
  root: ./src
templates:
  dir: ./tpl
monitor:
  settle_window: 50ms
auth:
  mode: token
  token: ${STENCIL_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Enabled() {
		t.Error("port 0 should disable HTTP")
	}
	if cfg.Project.Root != "./src" || cfg.Templates.Dir != "./tpl" || cfg.Templates.Extension != ".tpl" {
		t.Errorf("paths = %+v %+v", cfg.Project, cfg.Templates)
	}
	if cfg.Monitor.SettleWindow != 50*time.Millisecond {
		t.Errorf("settle window = %v", cfg.Monitor.SettleWindow)
	}
	if cfg.Auth.Token != "s3cret" || !cfg.Auth.AuthEnabled() {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}
