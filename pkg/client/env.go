package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvHost          = "BLENDER_BRIDGE_HOST"
	EnvPort          = "BLENDER_BRIDGE_PORT"
	EnvTimeout       = "BLENDER_BRIDGE_TIMEOUT"
	EnvRenderTimeout = "BLENDER_BRIDGE_RENDER_TIMEOUT"
)

// Config locates the bridge.
type Config struct {
	Host          string
	Port          int
	Timeout       time.Duration
	RenderTimeout time.Duration
}

// DefaultConfig returns the local default endpoint.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          8765,
		Timeout:       10 * time.Second,
		RenderTimeout: 120 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Host) == "" {
		c.Host = d.Host
	}
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = d.RenderTimeout
	}
	return c
}

// ConfigFromEnv reads the endpoint from the process environment after
// loading dotenv files. Without arguments an optional .env in the working
// directory is loaded. Variables already set in the environment win.
func ConfigFromEnv(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv(EnvHost)); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		cfg.Port = port
	}
	var err error
	if cfg.Timeout, err = envDuration(EnvTimeout, cfg.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.RenderTimeout, err = envDuration(EnvRenderTimeout, cfg.RenderTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s %q", key, v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
