package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/modshell/pkg/modshell"
	mserrors "github.com/randalmurphal/modshell/pkg/modshell/errors"
	"github.com/randalmurphal/modshell/pkg/modshell/observability"
)

// Duration accepts Go duration strings ("250ms") as well as plain seconds.
type Duration time.Duration

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full configuration of a host.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Tracing      bool               `mapstructure:"tracing"`
	Metrics      bool               `mapstructure:"metrics"`
	Journal      JournalConfig      `mapstructure:"journal"`
	Remotes      []RemoteConfig     `mapstructure:"remotes"`
	Host         map[string]any     `mapstructure:"host"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// RegistrationConfig configures the registries.
type RegistrationConfig struct {
	// MaxConcurrency bounds how many modules of a batch register at once.
	// Zero keeps each registry's default.
	MaxConcurrency int         `mapstructure:"max_concurrency"`
	LoaderRetry    RetryConfig `mapstructure:"loader_retry"`
}

// RetryConfig configures retries of the remote loader.
type RetryConfig struct {
	MaxAttempts    int      `mapstructure:"max_attempts"`
	InitialBackoff Duration `mapstructure:"initial_backoff"`
	MaxBackoff     Duration `mapstructure:"max_backoff"`
	Jitter         float64  `mapstructure:"jitter"`
}

// JournalConfig selects where registration events are journaled.
type JournalConfig struct {
	// Driver is "memory", "sqlite" or empty to disable the journal.
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
}

// RemoteConfig names a remote module to load.
type RemoteConfig struct {
	Name string `mapstructure:"name"`
}

// Default returns the configuration used for every key left unset.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 10,
			Compress:   true,
		},
		Registration: RegistrationConfig{
			MaxConcurrency: 0,
			LoaderRetry: RetryConfig{
				MaxAttempts:    1,
				InitialBackoff: Duration(250 * time.Millisecond),
				MaxBackoff:     Duration(5 * time.Second),
				Jitter:         0.1,
			},
		},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, newFieldError("log.level", err.Error()))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, newFieldError("log.format", fmt.Sprintf("unsupported format %q", c.Log.Format)))
	}

	if c.Registration.MaxConcurrency < 0 {
		errs = append(errs, newFieldError("registration.max_concurrency", "must not be negative"))
	}
	retry := c.Registration.LoaderRetry
	if retry.MaxAttempts < 0 {
		errs = append(errs, newFieldError("registration.loader_retry.max_attempts", "must not be negative"))
	}
	if retry.Jitter < 0 || retry.Jitter > 1 {
		errs = append(errs, newFieldError("registration.loader_retry.jitter", "must be between 0 and 1"))
	}
	if retry.MaxBackoff > 0 && retry.InitialBackoff > retry.MaxBackoff {
		errs = append(errs, newFieldError("registration.loader_retry.initial_backoff", "must not exceed max_backoff"))
	}

	switch c.Journal.Driver {
	case "", "memory":
	case "sqlite":
		if c.Journal.Path == "" {
			errs = append(errs, newFieldError("journal.path", "required by the sqlite driver"))
		}
	default:
		errs = append(errs, newFieldError("journal.driver", fmt.Sprintf("unsupported driver %q", c.Journal.Driver)))
	}

	seen := make(map[string]bool, len(c.Remotes))
	for i, r := range c.Remotes {
		field := fmt.Sprintf("remotes[%d].name", i)
		switch {
		case strings.TrimSpace(r.Name) == "":
			errs = append(errs, newFieldError(field, "required"))
		case seen[r.Name]:
			errs = append(errs, newFieldError(field, fmt.Sprintf("duplicate remote %q", r.Name)))
		}
		seen[r.Name] = true
	}

	return errors.Join(errs...)
}

// LogSink returns the logger configuration for observability.NewLogger.
func (c Config) LogSink() observability.LogConfig {
	return observability.LogConfig{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		FilePath:   c.Log.FilePath,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
	}
}

// LoaderRetry returns the remote loader retry configuration.
func (c Config) LoaderRetry() mserrors.RetryConfig {
	r := c.Registration.LoaderRetry
	if r.MaxAttempts <= 1 {
		return mserrors.NoRetry
	}
	return mserrors.NewRetryConfig(
		mserrors.WithMaxAttempts(r.MaxAttempts),
		mserrors.WithInitialBackoff(r.InitialBackoff.Std()),
		mserrors.WithMaxBackoff(r.MaxBackoff.Std()),
		mserrors.WithJitter(r.Jitter),
	)
}

// RegistryOptions returns the options every registry of the host is built with.
func (c Config) RegistryOptions() []modshell.RegistryOption {
	return []modshell.RegistryOption{
		modshell.WithMaxConcurrency(c.Registration.MaxConcurrency),
		modshell.WithLoaderRetry(c.LoaderRetry()),
	}
}

// RuntimeOptions returns the runtime options matching the tracing and
// metrics switches.
func (c Config) RuntimeOptions() []modshell.RuntimeOption {
	return []modshell.RuntimeOption{
		modshell.WithTracing(c.Tracing),
		modshell.WithMetrics(c.Metrics),
	}
}

// RemoteDefinitions returns the configured remotes as module definitions of
// the remote registry.
func (c Config) RemoteDefinitions() []modshell.ModuleDefinition {
	defs := make([]modshell.ModuleDefinition, len(c.Remotes))
	for i, r := range c.Remotes {
		defs[i] = modshell.ModuleDefinition{
			RegistryID: modshell.RemoteRegistryID,
			Definition: modshell.RemoteDefinition{Name: r.Name},
		}
	}
	return defs
}

// HostContext returns the host section, passed to register functions.
func (c Config) HostContext() Values {
	return NewValues(c.Host)
}

// FieldError reports an invalid configuration field.
type FieldError struct {
	Field   string
	Message string
}

func newFieldError(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}
