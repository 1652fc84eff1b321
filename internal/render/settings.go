package render

import (
	"strings"

	"github.com/saker-ai/render-bridge/internal/host"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

const (
	minQuality = 10
	maxQuality = 100
)

// Request is one parsed render_camera call.
type Request struct {
	ID      string
	Camera  string
	Width   int
	Height  int
	Format  string
	Quality int
}

// NormalizeFormat maps user supplied format names onto png or jpeg.
func NormalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "png":
		return protocol.FormatPNG, true
	case "jpeg", "jpg":
		return protocol.FormatJPEG, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type for a normalized format.
func ContentType(format string) string {
	if format == protocol.FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

func extension(format string) string {
	if format == protocol.FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Clamp applies the configured resolution and quality bounds to req and
// fills omitted fields with defaults.
func (c Config) Clamp(req Request) Request {
	c = c.withDefaults()
	if req.Width <= 0 {
		req.Width = c.MaxWidth
	}
	if req.Height <= 0 {
		req.Height = c.MaxHeight
	}
	req.Width = min(max(req.Width, c.MinWidth), c.MaxWidth)
	req.Height = min(max(req.Height, c.MinHeight), c.MaxHeight)

	if f, ok := NormalizeFormat(req.Format); ok {
		req.Format = f
	} else {
		req.Format = c.DefaultFormat
	}
	if req.Quality == 0 {
		req.Quality = c.DefaultQuality
	}
	req.Quality = min(max(req.Quality, minQuality), maxQuality)
	return req
}

// overrides derives the settings used for one render from the current ones.
func (c Config) overrides(base host.RenderSettings, req Request, path string) host.RenderSettings {
	s := base
	s.Camera = req.Camera
	s.ResolutionX = req.Width
	s.ResolutionY = req.Height
	s.ResolutionPercentage = 100
	s.FilePath = path

	if req.Format == protocol.FormatJPEG {
		s.FileFormat = host.FormatJPEG
		s.ColorMode = "RGB"
		s.Quality = req.Quality
	} else {
		s.FileFormat = host.FormatPNG
		s.ColorMode = "RGBA"
	}

	if c.unstable(s.Engine) {
		s.Engine = host.Engine(strings.ToUpper(c.FallbackEngine))
	}
	switch s.Engine {
	case host.EngineCycles:
		s.Device = host.DeviceCPU
		if s.Samples <= 0 || s.Samples > c.CyclesSamplesCap {
			s.Samples = c.CyclesSamplesCap
		}
	case host.EngineEevee, host.EngineEeveeShort, host.EngineEeveeNext:
		if s.EeveeSamples <= 0 || s.EeveeSamples > c.EeveeSamplesCap {
			s.EeveeSamples = c.EeveeSamplesCap
		}
		s.MotionBlur = false
	}
	s.PersistentData = false
	return s
}
