// Package config loads the drivewatch YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete drivewatch configuration.
type Config struct {
	// Log configures the process logger.
	Log LogConfig `yaml:"log"`

	// Workspace selects where the folder table and ledgers live.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Drive configures both Drive backends.
	Drive DriveConfig `yaml:"drive"`

	// Notify configures delivery of new-entry notifications.
	Notify NotifyConfig `yaml:"notify"`

	// Schedule configures the run loop.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Server configures the optional status API.
	Server ServerConfig `yaml:"server"`

	// Folders are added to the folder table when not already present.
	Folders []FolderConfig `yaml:"folders"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches the handler to JSON output.
	JSON bool `yaml:"json"`
}

type WorkspaceConfig struct {
	// DSN selects the state backend: a file path, file://, memory://,
	// postgres://, or bolt://.
	DSN string `yaml:"dsn"`

	// FoldersSheet is the sheet holding the folder table.
	FoldersSheet string `yaml:"folders_sheet"`
}

type DriveConfig struct {
	// Token is a static bearer token. Empty means application default
	// credentials.
	Token string `yaml:"token"`

	// TokenFile is read for the bearer token when Token is empty.
	TokenFile string `yaml:"token_file"`

	RESTBaseURL    string `yaml:"rest_base_url"`
	NativeEndpoint string `yaml:"native_endpoint"`

	// DisableNative resolves and lists every folder through REST.
	DisableNative bool `yaml:"disable_native"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxDepth   int           `yaml:"max_depth"`
	MaxRetries int           `yaml:"max_retries"`
}

type NotifyConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig enables e-mail delivery when Host is set.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type ScheduleConfig struct {
	// Interval between runs.
	Interval time.Duration `yaml:"interval"`

	// Jitter is a ratio in [0, 1] applied to Interval.
	Jitter float64 `yaml:"jitter"`
}

// ServerConfig enables the status API when Addr is set.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

type FolderConfig struct {
	Reference string `yaml:"reference"`
	Enabled   *bool  `yaml:"enabled"`
	Email     string `yaml:"email"`
}

// IsEnabled defaults to true when enabled is omitted.
func (f FolderConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Workspace: WorkspaceConfig{
			DSN:          "file://drivewatch-workspace.json",
			FoldersSheet: "Folders",
		},
		Drive: DriveConfig{
			Timeout:  30 * time.Second,
			MaxDepth: 100,
		},
		Notify: NotifyConfig{
			SMTP: SMTPConfig{Port: 587},
		},
		Schedule: ScheduleConfig{
			Interval: 15 * time.Minute,
			Jitter:   0.2,
		},
	}
}

// Load reads, validates and decodes the file at path. An empty path yields
// Default().
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema, decodes it over Default() and
// runs the semantic checks.
func Parse(data []byte) (Config, error) {
	if err := Validate(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	var errs []error
	if strings.TrimSpace(c.Workspace.FoldersSheet) == "" {
		errs = append(errs, errors.New("workspace.folders_sheet must not be empty"))
	}
	if c.Drive.Token != "" && c.Drive.TokenFile != "" {
		errs = append(errs, errors.New("drive.token and drive.token_file are mutually exclusive"))
	}
	if c.Drive.Timeout < 0 {
		errs = append(errs, errors.New("drive.timeout must not be negative"))
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	if c.Notify.SMTP.Host != "" && c.Notify.SMTP.From == "" {
		errs = append(errs, errors.New("notify.smtp.from is required when notify.smtp.host is set"))
	}
	if c.Server.Addr != "" && c.Server.JWTSecret == "" {
		errs = append(errs, errors.New("server.jwt_secret is required when server.addr is set"))
	}
	for i, folder := range c.Folders {
		if strings.TrimSpace(folder.Reference) == "" {
			errs = append(errs, fmt.Errorf("folders[%d].reference must not be empty", i))
		}
	}
	return errors.Join(errs...)
}
