// Package config loads dxserve settings from defaults, dxserve.yaml, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = 8000
	DefaultFile     = "dxserve.yaml"
	DefaultEnvFile  = ".env"
	envPrefix       = "DXSERVE_"
	defaultDebounce = 300 * time.Millisecond
)

type Config struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Root     string            `yaml:"root"`
	MIME     map[string]string `yaml:"mime"`
	Watch    bool              `yaml:"watch"`
	Compress bool              `yaml:"compress"`
	Minify   bool              `yaml:"minify"`

	Cache  CacheConfig  `yaml:"cache"`
	Banner BannerConfig `yaml:"banner"`
	Log    LogConfig    `yaml:"log"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Debounce        time.Duration `yaml:"debounce"`
}

type CacheConfig struct {
	// Path of the bbolt digest store. Empty keeps digests in memory only.
	Path string `yaml:"path"`
	// Control toggles the dev Cache-Control headers.
	Control bool `yaml:"control"`
}

type BannerConfig struct {
	Title string `yaml:"title"`
	Page  string `yaml:"page"`
	Ready string `yaml:"ready"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings of a bare `dxserve` run: port 8000 on all
// interfaces, serving the working directory.
func Default() *Config {
	return &Config{
		Port: DefaultPort,
		Root: ".",
		Cache: CacheConfig{
			Control: true,
		},
		Banner: BannerConfig{
			Title: "dx-www Demo Server Running",
			Page:  "demo.html",
			Ready: "HTIP Engine Ready",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 5 * time.Second,
		Debounce:        defaultDebounce,
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. Missing files are skipped; malformed ones are errors.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Host = getEnv("HOST", c.Host)
	c.Root = getEnv("ROOT", c.Root)
	c.Cache.Path = getEnv("CACHE", c.Cache.Path)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Port = getEnvAsInt("PORT", c.Port, &errs)
	c.Watch = getEnvAsBool("WATCH", c.Watch, &errs)
	c.Compress = getEnvAsBool("COMPRESS", c.Compress, &errs)
	c.Minify = getEnvAsBool("MINIFY", c.Minify, &errs)
	c.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout, &errs)

	return errors.Join(errs...)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("root must not be empty")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.Watch && c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	return nil
}

// Addr is the listen address. An empty host binds all interfaces.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DisplayURL is the address printed for humans to open.
func (c *Config) DisplayURL() string {
	return c.URLFor(c.Port)
}

// URLFor is DisplayURL for an explicit port, used once an ephemeral port
// has been bound.
func (c *Config) URLFor(port int) string {
	host := c.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
	return url + strings.TrimPrefix(c.Banner.Page, "/")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int, errs *[]error) int {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return defaultValue
	}
	return v
}

func getEnvAsBool(key string, defaultValue bool, errs *[]error) bool {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return defaultValue
	}
	return v
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return defaultValue
	}
	return v
}
