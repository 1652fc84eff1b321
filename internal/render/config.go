package render

import (
	"strings"
	"time"

	"github.com/saker-ai/render-bridge/internal/host"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

// Config holds the render limits and stability policy.
type Config struct {
	MaxWidth         int           `mapstructure:"max_width"`
	MaxHeight        int           `mapstructure:"max_height"`
	MinWidth         int           `mapstructure:"min_width"`
	MinHeight        int           `mapstructure:"min_height"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
	CleanupEvery     int           `mapstructure:"cleanup_every"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	DepsgraphPasses  int           `mapstructure:"depsgraph_passes"`
	MinImageBytes    int           `mapstructure:"min_image_bytes"`
	TempDir          string        `mapstructure:"temp_dir"`
	GCPasses         int           `mapstructure:"gc_passes"`
	GCPause          time.Duration `mapstructure:"gc_pause"`
	FallbackEngine   string        `mapstructure:"fallback_engine"`
	UnstableEngines  []string      `mapstructure:"unstable_engines"`
	CyclesSamplesCap int           `mapstructure:"cycles_samples_cap"`
	EeveeSamplesCap  int           `mapstructure:"eevee_samples_cap"`
	DefaultFormat    string        `mapstructure:"default_format"`
	DefaultQuality   int           `mapstructure:"default_quality"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxWidth:         1920,
		MaxHeight:        1080,
		MinWidth:         64,
		MinHeight:        64,
		MinInterval:      500 * time.Millisecond,
		CleanupEvery:     5,
		SettleDelay:      100 * time.Millisecond,
		DepsgraphPasses:  2,
		MinImageBytes:    100,
		GCPasses:         3,
		GCPause:          100 * time.Millisecond,
		FallbackEngine:   string(host.EngineWorkbench),
		UnstableEngines:  []string{string(host.EngineEeveeNext)},
		CyclesSamplesCap: 64,
		EeveeSamplesCap:  16,
		DefaultFormat:    protocol.FormatPNG,
		DefaultQuality:   90,
	}
}

// withDefaults fills zero fields from DefaultConfig. Negative durations are
// treated as zero so tests can disable delays explicitly.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWidth <= 0 {
		c.MaxWidth = d.MaxWidth
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = d.MaxHeight
	}
	if c.MinWidth <= 0 {
		c.MinWidth = d.MinWidth
	}
	if c.MinHeight <= 0 {
		c.MinHeight = d.MinHeight
	}
	c.MinWidth = min(c.MinWidth, c.MaxWidth)
	c.MinHeight = min(c.MinHeight, c.MaxHeight)
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = d.CleanupEvery
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.DepsgraphPasses <= 0 {
		c.DepsgraphPasses = 1
	}
	if c.MinImageBytes <= 0 {
		c.MinImageBytes = d.MinImageBytes
	}
	if c.GCPasses <= 0 {
		c.GCPasses = 1
	}
	if c.GCPause < 0 {
		c.GCPause = 0
	}
	if strings.TrimSpace(c.FallbackEngine) == "" {
		c.FallbackEngine = d.FallbackEngine
	}
	if c.CyclesSamplesCap <= 0 {
		c.CyclesSamplesCap = d.CyclesSamplesCap
	}
	if c.EeveeSamplesCap <= 0 {
		c.EeveeSamplesCap = d.EeveeSamplesCap
	}
	if f, ok := NormalizeFormat(c.DefaultFormat); ok {
		c.DefaultFormat = f
	} else {
		c.DefaultFormat = d.DefaultFormat
	}
	if c.DefaultQuality <= 0 {
		c.DefaultQuality = d.DefaultQuality
	}
	return c
}

func (c Config) unstable(engine host.Engine) bool {
	for _, name := range c.UnstableEngines {
		if strings.EqualFold(strings.TrimSpace(name), string(engine)) {
			return true
		}
	}
	return false
}
