package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config defines the launcher configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Scan      ScanConfig      `yaml:"scan"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Inference InferenceConfig `yaml:"inference"`
	Retention RetentionConfig `yaml:"retention"`
}

type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

type TransportConfig struct {
	Mode string `yaml:"mode" validate:"oneof=stdio http"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token" validate:"required_if=Enabled true"`
}

type DBConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Path, when set, sends logs to a size-capped file instead of the console.
	Path string `yaml:"path"`
}

type ScanConfig struct {
	Roots                 []string `yaml:"roots" validate:"required,min=1,dive,required"`
	MaxDepth              int      `yaml:"max_depth" validate:"gte=1,lte=16"`
	FingerprintDepth      int      `yaml:"fingerprint_depth" validate:"gte=0"`
	FingerprintMaxEntries int      `yaml:"fingerprint_max_entries" validate:"gte=0"`
	Ignore                []string `yaml:"ignore"`
	Watch                 bool     `yaml:"watch"`
}

type ScheduleConfig struct {
	QuickInterval  time.Duration `yaml:"quick_interval" validate:"gt=0"`
	FullInterval   time.Duration `yaml:"full_interval" validate:"gt=0"`
	EnrichInterval time.Duration `yaml:"enrich_interval" validate:"gt=0"`
	Resolution     time.Duration `yaml:"resolution" validate:"gt=0"`
	ScanOnStart    bool          `yaml:"scan_on_start"`
}

type EnrichConfig struct {
	Workers             int           `yaml:"workers" validate:"gte=1,lte=32"`
	Timeout             time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries          int           `yaml:"max_retries" validate:"gte=0,lte=5"`
	MinLaunchConfidence float64       `yaml:"min_launch_confidence" validate:"gte=0,lte=1"`
	ScriptsDir          string        `yaml:"scripts_dir" validate:"required"`
	RatePerSecond       float64       `yaml:"rate_per_second" validate:"gte=0"`
}

type InferenceConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=openai anthropic none"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	Model     string `yaml:"model" validate:"required_unless=Provider none"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens" validate:"gte=0"`
}

type RetentionConfig struct {
	SessionDays   int `yaml:"session_days" validate:"gte=0"`
	TombstoneDays int `yaml:"tombstone_days" validate:"gte=0"`
}

// SessionAge converts SessionDays to a duration.
func (r RetentionConfig) SessionAge() time.Duration {
	return time.Duration(r.SessionDays) * 24 * time.Hour
}

// TombstoneAge converts TombstoneDays to a duration.
func (r RetentionConfig) TombstoneAge() time.Duration {
	return time.Duration(r.TombstoneDays) * 24 * time.Hour
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	dataDir := filepath.Join(home, ".launcher")
	return Config{
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8080},
		Transport: TransportConfig{Mode: "stdio"},
		DB:        DBConfig{Path: filepath.Join(dataDir, "launcher.db")},
		Log:       LogConfig{Level: "info"},
		Scan: ScanConfig{
			Roots:                 []string{filepath.Join(home, "projects")},
			MaxDepth:              4,
			FingerprintDepth:      2,
			FingerprintMaxEntries: 2000,
			Watch:                 true,
		},
		Schedule: ScheduleConfig{
			QuickInterval:  5 * time.Minute,
			FullInterval:   time.Hour,
			EnrichInterval: 2 * time.Minute,
			Resolution:     time.Second,
			ScanOnStart:    true,
		},
		Enrich: EnrichConfig{
			Workers:             3,
			Timeout:             90 * time.Second,
			MaxRetries:          1,
			MinLaunchConfidence: 0.3,
			ScriptsDir:          filepath.Join(dataDir, "scripts"),
		},
		Inference: InferenceConfig{
			Provider: "openai",
			BaseURL:  "http://localhost:11434/v1",
			Model:    "qwen2.5-coder:7b",
		},
		Retention: RetentionConfig{SessionDays: 30, TombstoneDays: 90},
	}
}

var validate = validator.New()

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("LAUNCHER_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"LAUNCHER_SERVER_HOST":        &cfg.Server.Host,
		"LAUNCHER_TRANSPORT":          &cfg.Transport.Mode,
		"LAUNCHER_AUTH_TOKEN":         &cfg.Auth.Token,
		"LAUNCHER_DB_PATH":            &cfg.DB.Path,
		"LAUNCHER_LOG_LEVEL":          &cfg.Log.Level,
		"LAUNCHER_LOG_PATH":           &cfg.Log.Path,
		"LAUNCHER_SCRIPTS_DIR":        &cfg.Enrich.ScriptsDir,
		"LAUNCHER_INFERENCE_PROVIDER": &cfg.Inference.Provider,
		"LAUNCHER_INFERENCE_BASE_URL": &cfg.Inference.BaseURL,
		"LAUNCHER_INFERENCE_MODEL":    &cfg.Inference.Model,
		"LAUNCHER_INFERENCE_API_KEY":  &cfg.Inference.APIKey,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if cfg.Auth.Token != "" && os.Getenv("LAUNCHER_AUTH_TOKEN") != "" {
		cfg.Auth.Enabled = true
	}

	ints := map[string]*int{
		"LAUNCHER_SERVER_PORT":    &cfg.Server.Port,
		"LAUNCHER_SCAN_MAX_DEPTH": &cfg.Scan.MaxDepth,
		"LAUNCHER_ENRICH_WORKERS": &cfg.Enrich.Workers,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"LAUNCHER_QUICK_INTERVAL":  &cfg.Schedule.QuickInterval,
		"LAUNCHER_FULL_INTERVAL":   &cfg.Schedule.FullInterval,
		"LAUNCHER_ENRICH_INTERVAL": &cfg.Schedule.EnrichInterval,
		"LAUNCHER_ENRICH_TIMEOUT":  &cfg.Enrich.Timeout,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("LAUNCHER_MIN_LAUNCH_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LAUNCHER_MIN_LAUNCH_CONFIDENCE: %w", err)
		}
		cfg.Enrich.MinLaunchConfidence = f
	}
	if v := os.Getenv("LAUNCHER_SCAN_ROOTS"); v != "" {
		cfg.Scan.Roots = filepath.SplitList(v)
	}
	if v := os.Getenv("LAUNCHER_SCAN_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LAUNCHER_SCAN_WATCH: %w", err)
		}
		cfg.Scan.Watch = b
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return nil
}
