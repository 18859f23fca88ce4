// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/coordops/caerun/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Evidence EvidenceConfig `mapstructure:"evidence" yaml:"evidence"`
	Trace    TraceConfig    `mapstructure:"trace" yaml:"trace"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection settings for the submission ledger and
// the document catalog.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig controls the chromedp driver.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ChromePath      string        `mapstructure:"chrome_path" yaml:"chrome_path"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	DownloadDir     string        `mapstructure:"download_dir" yaml:"download_dir"`
	NavigationWait  time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
}

// ExecutorConfig governs run-level policy.
type ExecutorConfig struct {
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error"`
	// Concurrency bounds parallel runs over distinct logical contexts.
	// Execution within one run is always strictly sequential.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// LoopThreshold is the number of times the same state signature may
	// recur within one run before the executor halts with POLICY_HALT.
	LoopThreshold int `mapstructure:"loop_threshold" yaml:"loop_threshold"`
	// LockTTL bounds how long a run lock may sit idle before another run is
	// allowed to override it as stale.
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	// BlockedDomains are never navigated to.
	BlockedDomains []string `mapstructure:"blocked_domains" yaml:"blocked_domains"`
	// PaymentKeywords mark actions and URLs belonging to payment workflows,
	// which are detected and blocked, never automated.
	PaymentKeywords []string `mapstructure:"payment_keywords" yaml:"payment_keywords"`
	// PacingInterval is the minimum spacing between consecutive browser
	// actions.
	PacingInterval time.Duration `mapstructure:"pacing_interval" yaml:"pacing_interval"`
}

// RetryConfig parametrizes the bounded retry policy.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	JitterMax     time.Duration `mapstructure:"jitter_max" yaml:"jitter_max"`

	// Retries allowed per phase on top of the first attempt. A phase listed
	// here replaces MaxAttempts entirely; phases without an override use
	// MaxAttempts as their total ceiling.
	LoginExtra        int `mapstructure:"login_extra" yaml:"login_extra"`
	NavigationExtra   int `mapstructure:"navigation_extra" yaml:"navigation_extra"`
	GridLoadExtra     int `mapstructure:"grid_load_extra" yaml:"grid_load_extra"`
	UploadExtra       int `mapstructure:"upload_extra" yaml:"upload_extra"`
	VerificationExtra int `mapstructure:"verification_extra" yaml:"verification_extra"`
}

// TimeoutsConfig holds the per-phase hard deadlines.
type TimeoutsConfig struct {
	Login        time.Duration `mapstructure:"login" yaml:"login"`
	Navigation   time.Duration `mapstructure:"navigation" yaml:"navigation"`
	GridLoad     time.Duration `mapstructure:"grid_load" yaml:"grid_load"`
	Upload       time.Duration `mapstructure:"upload" yaml:"upload"`
	Verification time.Duration `mapstructure:"verification" yaml:"verification"`
	Pagination   time.Duration `mapstructure:"pagination" yaml:"pagination"`
}

// ForPhase returns the configured deadline for a phase.
func (t TimeoutsConfig) ForPhase(p schemas.Phase) time.Duration {
	switch p {
	case schemas.PhaseLogin:
		return t.Login
	case schemas.PhaseNavigation:
		return t.Navigation
	case schemas.PhaseGridLoad:
		return t.GridLoad
	case schemas.PhaseUpload:
		return t.Upload
	case schemas.PhaseVerification:
		return t.Verification
	case schemas.PhasePagination:
		return t.Pagination
	}
	return t.Navigation
}

// EvidenceConfig controls the evidence recorder.
type EvidenceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// TraceConfig controls the append-only execution trace.
type TraceConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// SyncEveryWrite forces an fsync after each appended event.
	SyncEveryWrite bool `mapstructure:"sync_every_write" yaml:"sync_every_write"`
}

// SetDefaults registers every default value with viper. Call before
// unmarshaling.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "caerun")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "magenta")
	v.SetDefault("logger.colors.info", "cyan")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_wait", 2*time.Second)

	v.SetDefault("executor.concurrency", 1)
	v.SetDefault("executor.loop_threshold", 3)
	v.SetDefault("executor.lock_ttl", 10*time.Minute)
	v.SetDefault("executor.pacing_interval", 250*time.Millisecond)
	v.SetDefault("executor.payment_keywords", []string{"payment", "pago", "tarjeta", "checkout"})

	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.backoff_base", 500*time.Millisecond)
	v.SetDefault("retry.backoff_factor", 1.5)
	v.SetDefault("retry.jitter_max", 250*time.Millisecond)
	v.SetDefault("retry.login_extra", 1)
	v.SetDefault("retry.navigation_extra", 2)
	v.SetDefault("retry.grid_load_extra", 2)
	v.SetDefault("retry.upload_extra", 0)
	v.SetDefault("retry.verification_extra", 1)

	v.SetDefault("timeouts.login", 60*time.Second)
	v.SetDefault("timeouts.navigation", 60*time.Second)
	v.SetDefault("timeouts.grid_load", 60*time.Second)
	v.SetDefault("timeouts.upload", 90*time.Second)
	v.SetDefault("timeouts.verification", 60*time.Second)
	v.SetDefault("timeouts.pagination", 60*time.Second)

	v.SetDefault("evidence.root", "evidence")
	v.SetDefault("trace.path", "trace.jsonl")
	v.SetDefault("trace.sync_every_write", false)
}

// Load reads configuration from the given file (or the default search path),
// environment variables, and defaults, in the usual viper precedence order.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.caerun")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CAERUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 1.0 {
		return fmt.Errorf("retry.backoff_factor must be >= 1.0, got %g", c.Retry.BackoffFactor)
	}
	if c.Executor.LoopThreshold < 1 {
		return fmt.Errorf("executor.loop_threshold must be at least 1, got %d", c.Executor.LoopThreshold)
	}
	if c.Executor.Concurrency < 1 {
		return fmt.Errorf("executor.concurrency must be at least 1, got %d", c.Executor.Concurrency)
	}
	for _, p := range schemas.Phases() {
		if c.Timeouts.ForPhase(p) <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", p)
		}
	}
	return nil
}
