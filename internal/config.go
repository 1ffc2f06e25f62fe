package internal

import (
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/recordstore"
)

// DefaultConfigYAML is used when no config file is present. Its ${VAR}
// references let the environment alone configure a deployment.
//
//go:embed defaults.yaml
var DefaultConfigYAML []byte

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store drivers.
const (
	StoreDriverRedis  = "redis"
	StoreDriverSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Store   StoreConfig       `yaml:"store"`
	Content ContentConfig     `yaml:"content"`
	Auth    AuthConfig        `yaml:"auth"`
	Events  EventsConfig      `yaml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Content.Validate(); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects and configures the record store.
//
// With the redis driver an empty URL is allowed: the store then reports every
// operation as unavailable instead of failing startup.
type StoreConfig struct {
	Driver string        `yaml:"driver"`
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
	SQLite SQLiteConfig  `yaml:"sqlite"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(StoreDriverRedis, StoreDriverSQLite)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Driver == StoreDriverSQLite {
		return c.SQLite.Validate()
	}
	return nil
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ContentConfig describes where artifacts are written.
type ContentConfig struct {
	Root         string `yaml:"root"`
	NotesDir     string `yaml:"notes_dir"`
	PostsDir     string `yaml:"posts_dir"`
	Ext          string `yaml:"ext"`
	ImagesDir    string `yaml:"images_dir"`
	ImagesURL    string `yaml:"images_url"`
	Writes       string `yaml:"writes"`
	SweepOnStart bool   `yaml:"sweep_on_start"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.NotesDir, validation.Required),
		validation.Field(&c.PostsDir, validation.Required, validation.NotIn(c.NotesDir).Error("must differ from notes_dir")),
		validation.Field(&c.Ext, validation.Required),
		validation.Field(&c.Writes, validation.Required, validation.In(artifact.ModeAuto, artifact.ModeDirect, artifact.ModeDeferred)),
	)
}

// Layout returns the artifact layout for the configured directories.
func (c *ContentConfig) Layout() artifact.Layout {
	return artifact.Layout{
		Dirs: map[models.Kind]string{
			models.KindNote: c.NotesDir,
			models.KindPost: c.PostsDir,
		},
		Ext: c.Ext,
	}
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

// EventsConfig tunes the SSE stream.
type EventsConfig struct {
	StaleThrottle time.Duration `yaml:"stale_throttle"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Driver: StoreDriverRedis,
			TTL:    recordstore.TTL,
			Redis: RedisConfig{
				Timeout: 5 * time.Second,
			},
			SQLite: SQLiteConfig{
				Path: "./quill.db",
			},
		},
		Content: ContentConfig{
			Root:         "./content",
			NotesDir:     "notes",
			PostsDir:     "blog",
			Ext:          "mdx",
			ImagesDir:    "public/images",
			ImagesURL:    "/images",
			Writes:       artifact.ModeAuto,
			SweepOnStart: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Events: EventsConfig{
			StaleThrottle: 2 * time.Second,
		},
	}
}
