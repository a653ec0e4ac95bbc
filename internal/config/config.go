// Package config resolves client settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Environment variables read by Load.
const (
	EnvAPIURL   = "MOODMATE_API_URL"
	EnvHome     = "MOODMATE_HOME"
	EnvLogLevel = "MOODMATE_LOG_LEVEL"
	EnvTimeout  = "MOODMATE_TIMEOUT"
)

const (
	DefaultAPIURL  = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
	homeDirName    = ".moodmate"
)

// Config is the resolved client configuration.
type Config struct {
	APIURL   string
	Home     string
	LogLevel zapcore.Level
	Timeout  time.Duration
}

// StorageDir is where credentials and preferences are kept.
func (c Config) StorageDir() string {
	return filepath.Join(c.Home, "store")
}

// LogPath is the client log file.
func (c Config) LogPath() string {
	return filepath.Join(c.Home, "moodmate.log")
}

// Load reads the environment, falling back to defaults for unset values.
func Load() (Config, error) {
	cfg := Config{
		APIURL:   DefaultAPIURL,
		LogLevel: zapcore.InfoLevel,
		Timeout:  DefaultTimeout,
	}

	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("config.Load: %s: invalid URL %q", EnvAPIURL, v)
		}
		cfg.APIURL = strings.TrimRight(v, "/")
	}

	if v := strings.TrimSpace(os.Getenv(EnvHome)); v != "" {
		cfg.Home = v
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: get home dir: %w", err)
		}
		cfg.Home = filepath.Join(home, homeDirName)
	}

	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: %s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = lvl
	}

	if v := strings.TrimSpace(os.Getenv(EnvTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: %s: %w", EnvTimeout, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("config.Load: %s must be positive, got %s", EnvTimeout, d)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}
