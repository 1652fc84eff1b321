package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/render-bridge/config"
	"github.com/saker-ai/render-bridge/internal/logger"
	"github.com/saker-ai/render-bridge/internal/render"
	"github.com/saker-ai/render-bridge/internal/server"
)

// EnvRootDir overrides the directory searched for conf.yaml.
const EnvRootDir = "BRIDGE_ROOT_DIR"

const envPrefix = "bridge"

// PanelConfig controls the HTTP control panel.
type PanelConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// Addr returns the panel listen address.
func (p PanelConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// SceneConfig selects the scene loaded into the simulated host. Path may
// name a fixture file or a directory of fixtures; Name picks a scene from a
// directory by its scene name.
type SceneConfig struct {
	Path    string `mapstructure:"path"`
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Config is the bridge process configuration.
type Config struct {
	RootDir   string        `mapstructure:"-"`
	AutoStart bool          `mapstructure:"auto_start"`
	Socket    server.Config `mapstructure:"socket"`
	Render    render.Config `mapstructure:"render"`
	Panel     PanelConfig   `mapstructure:"panel"`
	Scene     SceneConfig   `mapstructure:"scene"`
	Log       logger.Config `mapstructure:"log"`
}

// Load reads the embedded defaults, merges conf.yaml from the root
// directory when present and applies BRIDGE_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("merge conf.yaml: %w", err)
		}
	}
	return decode(v, rootDir)
}

// LoadConfig reads the file at configPath on top of the defaults. An empty
// path falls back to Load. The root directory is the file's directory, or
// its parent when the file lives in a config/ folder.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(EnvRootDir))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	} else if rootDir, err = filepath.Abs(rootDir); err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, fmt.Errorf("merge %s: %w", absPath, err)
	}
	return decode(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func setDefaults(v *viper.Viper) {
	rd := render.DefaultConfig()

	v.SetDefault("auto_start", true)

	v.SetDefault("socket.host", "127.0.0.1")
	v.SetDefault("socket.port", 8765)
	v.SetDefault("socket.max_connections", 4)
	v.SetDefault("socket.read_timeout", 5*time.Second)
	v.SetDefault("socket.write_timeout", 30*time.Second)
	v.SetDefault("socket.handle_timeout", 120*time.Second)
	v.SetDefault("socket.idle_timeout", 30*time.Second)
	v.SetDefault("socket.max_frame_bytes", 64<<20)

	v.SetDefault("render.max_width", rd.MaxWidth)
	v.SetDefault("render.max_height", rd.MaxHeight)
	v.SetDefault("render.min_width", rd.MinWidth)
	v.SetDefault("render.min_height", rd.MinHeight)
	v.SetDefault("render.min_interval", rd.MinInterval)
	v.SetDefault("render.cleanup_every", rd.CleanupEvery)
	v.SetDefault("render.settle_delay", rd.SettleDelay)
	v.SetDefault("render.depsgraph_passes", rd.DepsgraphPasses)
	v.SetDefault("render.min_image_bytes", rd.MinImageBytes)
	v.SetDefault("render.temp_dir", "")
	v.SetDefault("render.gc_passes", rd.GCPasses)
	v.SetDefault("render.gc_pause", rd.GCPause)
	v.SetDefault("render.fallback_engine", rd.FallbackEngine)
	v.SetDefault("render.unstable_engines", rd.UnstableEngines)
	v.SetDefault("render.cycles_samples_cap", rd.CyclesSamplesCap)
	v.SetDefault("render.eevee_samples_cap", rd.EeveeSamplesCap)
	v.SetDefault("render.default_format", rd.DefaultFormat)
	v.SetDefault("render.default_quality", rd.DefaultQuality)

	v.SetDefault("panel.enabled", true)
	v.SetDefault("panel.host", "127.0.0.1")
	v.SetDefault("panel.port", 8766)
	v.SetDefault("panel.status_interval", time.Second)

	v.SetDefault("scene.path", "")
	v.SetDefault("scene.name", "")
	v.SetDefault("scene.version", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "render-bridge.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.RootDir = rootDir
	derivePaths(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Socket.Port < 0 || cfg.Socket.Port > 65535 {
		return fmt.Errorf("socket.port %d out of range", cfg.Socket.Port)
	}
	if cfg.Panel.Enabled && (cfg.Panel.Port < 0 || cfg.Panel.Port > 65535) {
		return fmt.Errorf("panel.port %d out of range", cfg.Panel.Port)
	}
	if cfg.Render.MinWidth > cfg.Render.MaxWidth || cfg.Render.MinHeight > cfg.Render.MaxHeight {
		return fmt.Errorf("render minimum %dx%d exceeds maximum %dx%d",
			cfg.Render.MinWidth, cfg.Render.MinHeight, cfg.Render.MaxWidth, cfg.Render.MaxHeight)
	}
	if _, ok := render.NormalizeFormat(cfg.Render.DefaultFormat); !ok {
		return fmt.Errorf("render.default_format %q is not png or jpeg", cfg.Render.DefaultFormat)
	}
	return nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(EnvRootDir)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
	if strings.TrimSpace(cfg.Scene.Path) != "" {
		cfg.Scene.Path = resolvePath(cfg.RootDir, cfg.Scene.Path, "")
	}
	if strings.TrimSpace(cfg.Render.TempDir) != "" {
		cfg.Render.TempDir = resolvePath(cfg.RootDir, cfg.Render.TempDir, "")
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
