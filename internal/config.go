package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/stencil/internal/project"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Project   ProjectConfig     `yaml:"project"`
	Templates TemplatesConfig   `yaml:"templates"`
	Output    OutputConfig      `yaml:"output"`
	Monitor   MonitorConfig     `yaml:"monitor"`
	Status    StatusConfig      `yaml:"status"`
	Ledger    LedgerConfig      `yaml:"ledger"`
	Scratch   ScratchConfig     `yaml:"scratch"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Project, &c.Templates, &c.Output, &c.Monitor, &c.Status, &c.Ledger, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. Port 0 disables the server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Enabled reports whether the HTTP surface should be served.
func (c *HTTPConfig) Enabled() bool {
	return c.Port != 0
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// ProjectConfig describes the watched host project.
type ProjectConfig struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
	Ignore     []string `yaml:"ignore"`
}

// Filter returns the item filter for the project root.
func (c *ProjectConfig) Filter() project.Filter {
	return project.Filter{Extensions: c.Extensions, Ignore: c.Ignore}
}

// Validate validates the project configuration.
func (c *ProjectConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.Required)),
	); err != nil {
		return fmt.Errorf("project: %w", err)
	}
	return nil
}

// TemplatesConfig locates the template files.
type TemplatesConfig struct {
	Dir       string `yaml:"dir"`
	Extension string `yaml:"extension"`
}

// Validate validates the templates configuration.
func (c *TemplatesConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Extension, validation.Required, validation.By(leadingDot)),
	); err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	return nil
}

func leadingDot(v any) error {
	s, _ := v.(string)
	if s != "" && s[0] != '.' {
		return fmt.Errorf("must start with a dot")
	}
	return nil
}

// OutputConfig controls where generated files go. An empty Dir means the
// project root.
type OutputConfig struct {
	Dir           string        `yaml:"dir"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.RenderTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// MonitorConfig tunes change detection.
type MonitorConfig struct {
	SettleWindow time.Duration `yaml:"settle_window"`
}

// Validate validates the monitor configuration.
func (c *MonitorConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.SettleWindow, validation.Required, validation.Min(time.Millisecond)),
	); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// StatusConfig tunes the status line.
type StatusConfig struct {
	InfoTTL time.Duration `yaml:"info_ttl"`
	Color   bool          `yaml:"color"`
}

// Validate validates the status configuration.
func (c *StatusConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.InfoTTL, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// LedgerConfig holds the output ledger database location.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// ScratchConfig names the per-session temp directory. Empty disables it.
type ScratchConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Project: ProjectConfig{
			Root:       ".",
			Extensions: []string{".go"},
			Ignore:     project.DefaultIgnore,
		},
		Templates: TemplatesConfig{
			Dir:       "./templates",
			Extension: ".tpl",
		},
		Monitor: MonitorConfig{
			SettleWindow: 200 * time.Millisecond,
		},
		Status: StatusConfig{
			InfoTTL: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			Path: "./.stencil/ledger.db",
		},
		Scratch: ScratchConfig{
			Dir: "./.stencil/tmp",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
