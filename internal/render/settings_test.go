package render

import (
	"testing"

	"github.com/saker-ai/render-bridge/internal/host"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

func TestClamp(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		name string
		in   Request
		want Request
	}{
		{
			name: "defaults",
			in:   Request{Camera: "Camera"},
			want: Request{Camera: "Camera", Width: 1920, Height: 1080, Format: protocol.FormatPNG, Quality: 90},
		},
		{
			name: "above max",
			in:   Request{Width: 5000, Height: 4000, Format: "PNG", Quality: 250},
			want: Request{Width: 1920, Height: 1080, Format: protocol.FormatPNG, Quality: 100},
		},
		{
			name: "below min",
			in:   Request{Width: 10, Height: 1, Format: "jpg", Quality: 3},
			want: Request{Width: 64, Height: 64, Format: protocol.FormatJPEG, Quality: 10},
		},
		{
			name: "unknown format falls back",
			in:   Request{Width: 640, Height: 480, Format: "tiff", Quality: 50},
			want: Request{Width: 640, Height: 480, Format: protocol.FormatPNG, Quality: 50},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cfg.Clamp(tc.in); got != tc.want {
				t.Fatalf("Clamp=%+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestOverridesEngineTable(t *testing.T) {
	cfg := DefaultConfig().withDefaults()
	req := cfg.Clamp(Request{Camera: "Camera", Width: 320, Height: 240})
	base := host.RenderSettings{
		Camera:         "Other",
		Device:         host.DeviceGPU,
		Samples:        512,
		EeveeSamples:   64,
		MotionBlur:     true,
		PersistentData: true,
	}

	cases := []struct {
		engine     host.Engine
		wantEngine host.Engine
		check      func(t *testing.T, s host.RenderSettings)
	}{
		{
			engine:     host.EngineEeveeNext,
			wantEngine: host.EngineWorkbench,
		},
		{
			engine:     host.EngineCycles,
			wantEngine: host.EngineCycles,
			check: func(t *testing.T, s host.RenderSettings) {
				if s.Device != host.DeviceCPU || s.Samples != 64 {
					t.Fatalf("cycles device=%s samples=%d, want CPU 64", s.Device, s.Samples)
				}
			},
		},
		{
			engine:     host.EngineEevee,
			wantEngine: host.EngineEevee,
			check: func(t *testing.T, s host.RenderSettings) {
				if s.EeveeSamples != 16 || s.MotionBlur {
					t.Fatalf("eevee samples=%d motion_blur=%v, want 16 false", s.EeveeSamples, s.MotionBlur)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.engine), func(t *testing.T) {
			in := base
			in.Engine = tc.engine
			got := cfg.overrides(in, req, "/tmp/x.png")
			if got.Engine != tc.wantEngine {
				t.Fatalf("engine=%s, want %s", got.Engine, tc.wantEngine)
			}
			if got.PersistentData {
				t.Fatal("persistent data left enabled")
			}
			if got.Camera != "Camera" || got.ResolutionX != 320 || got.ResolutionY != 240 || got.ResolutionPercentage != 100 {
				t.Fatalf("overrides=%+v, want camera and resolution applied", got)
			}
			if got.FileFormat != host.FormatPNG || got.ColorMode != "RGBA" {
				t.Fatalf("format=%s color=%s, want PNG RGBA", got.FileFormat, got.ColorMode)
			}
			if tc.check != nil {
				tc.check(t, got)
			}
		})
	}
}

func TestOverridesJPEGColorMode(t *testing.T) {
	cfg := DefaultConfig().withDefaults()
	req := cfg.Clamp(Request{Camera: "Camera", Format: "jpeg", Quality: 40})
	got := cfg.overrides(host.RenderSettings{Engine: host.EngineWorkbench, Quality: 90}, req, "")
	if got.FileFormat != host.FormatJPEG || got.ColorMode != "RGB" || got.Quality != 40 {
		t.Fatalf("jpeg overrides=%+v, want JPEG RGB quality 40", got)
	}
}
