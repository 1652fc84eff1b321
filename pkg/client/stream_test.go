package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saker-ai/render-bridge/pkg/protocol"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.n); got != tc.want {
			t.Fatalf("Backoff(%d)=%s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestStreamerClampsFPS(t *testing.T) {
	c := New(Config{}, nil)
	if got := NewStreamer(c, StreamConfig{FPS: 60}).Config().FPS; got != 15 {
		t.Fatalf("FPS=%d, want 15", got)
	}
	if got := NewStreamer(c, StreamConfig{FPS: -3}).Config().FPS; got != 1 {
		t.Fatalf("FPS=%d, want 1", got)
	}
	cfg := NewStreamer(c, StreamConfig{}).Config()
	if cfg.FPS != 5 || cfg.Render.CameraName != "Camera" || cfg.Render.Format != protocol.FormatJPEG {
		t.Fatalf("defaults=%+v, want 5 fps jpeg from Camera", cfg)
	}
}

func TestStreamerStopsAfterConsecutiveErrors(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Port: closedPort(t), RenderTimeout: time.Second}, nil)
	s := NewStreamer(c, StreamConfig{FPS: 15})
	var waits []time.Duration
	s.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	stats, err := s.Run(context.Background(), nil)
	if !errors.Is(err, ErrTooManyErrors) {
		t.Fatalf("err=%v, want ErrTooManyErrors", err)
	}
	if stats.Errors != 5 || stats.Frames != 0 {
		t.Fatalf("stats=%+v, want 5 errors", stats)
	}
	if !protocol.IsCode(stats.LastError, protocol.CodeConnectionRefused) {
		t.Fatalf("last error=%v, want ConnectionRefused", stats.LastError)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits=%v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits=%v, want %v", waits, want)
		}
	}
}

func TestStreamerDeliversFramesAndSkipsRateLimited(t *testing.T) {
	var calls atomic.Int32
	host, port := serveFake(t, func(protocol.Request) (protocol.Response, []byte) {
		if calls.Add(1)%2 == 0 {
			return protocol.Failure(protocol.NewError(protocol.CodeRateLimited, "too soon")), nil
		}
		resp, _ := protocol.OK(protocol.RenderInfo{Camera: "Camera", Length: 128})
		resp.Binary = &protocol.Attachment{ContentType: "image/jpeg"}
		return resp, make([]byte, 128)
	})
	c := New(Config{Host: host, Port: port}, nil)
	s := NewStreamer(c, StreamConfig{FPS: 15})
	s.wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stats, err := s.Run(ctx, func(n int, f Frame) {
		if len(f.Data) != 128 {
			t.Errorf("frame %d len=%d, want 128", n, len(f.Data))
		}
		if n == 3 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if stats.Frames != 3 || stats.Errors != 0 || stats.Skipped != 2 {
		t.Fatalf("stats=%+v, want 3 frames, 2 skipped", stats)
	}
}
