package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/pkg/protocol"
)

const (
	minStreamFPS         = 1
	maxStreamFPS         = 15
	defaultMaxErrors     = 5
	backoffBase          = 500 * time.Millisecond
	backoffCap           = 5 * time.Second
	defaultStreamFPS     = 5
	defaultStreamQuality = 75
	defaultStreamWidth   = 1280
	defaultStreamHeight  = 720
	defaultStreamFormat  = protocol.FormatJPEG
	defaultStreamCamera  = "Camera"
)

// ErrTooManyErrors ends a stream after consecutive failed captures.
var ErrTooManyErrors = errors.New("client: too many consecutive stream errors")

// StreamConfig describes a capture loop.
type StreamConfig struct {
	Render    protocol.RenderParams
	FPS       int
	MaxErrors int
}

// StreamStats summarises a finished stream.
type StreamStats struct {
	Frames    int
	Skipped   int
	Errors    int
	LastError error
}

// Streamer captures frames from one camera at a capped rate. Retrying is
// its own policy; Call underneath never retries.
type Streamer struct {
	client *Client
	cfg    StreamConfig
	logger *zap.Logger
	wait   func(context.Context, time.Duration) error
}

// NewStreamer creates a streamer. FPS is clamped to 1..15.
func NewStreamer(c *Client, cfg StreamConfig) *Streamer {
	if cfg.FPS == 0 {
		cfg.FPS = defaultStreamFPS
	}
	cfg.FPS = min(max(cfg.FPS, minStreamFPS), maxStreamFPS)
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	if cfg.Render.CameraName == "" {
		cfg.Render.CameraName = defaultStreamCamera
	}
	if cfg.Render.Format == "" {
		cfg.Render.Format = defaultStreamFormat
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaultStreamWidth
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaultStreamHeight
	}
	if cfg.Render.Quality == 0 {
		cfg.Render.Quality = defaultStreamQuality
	}
	return &Streamer{client: c, cfg: cfg, logger: c.logger, wait: sleepContext}
}

// Config returns the effective stream configuration.
func (s *Streamer) Config() StreamConfig {
	return s.cfg
}

// Backoff returns the pause after the n-th consecutive error.
func Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := backoffBase
	for i := 0; i < n && d < backoffCap; i++ {
		d *= 2
	}
	return min(d, backoffCap)
}

// Run captures until ctx ends or MaxErrors consecutive captures fail.
// RateLimited answers count as skipped frames, not errors. onFrame runs on
// the calling goroutine.
func (s *Streamer) Run(ctx context.Context, onFrame func(int, Frame)) (StreamStats, error) {
	var stats StreamStats
	interval := time.Second / time.Duration(s.cfg.FPS)
	consecutive := 0

	for {
		started := time.Now()
		frame, err := s.client.RenderCamera(ctx, s.cfg.Render)
		switch {
		case err == nil:
			consecutive = 0
			stats.Frames++
			if onFrame != nil {
				onFrame(stats.Frames, frame)
			}
		case ctx.Err() != nil:
			return stats, nil
		case protocol.IsCode(err, protocol.CodeRateLimited):
			stats.Skipped++
		default:
			consecutive++
			stats.Errors++
			stats.LastError = err
			s.logger.Warn("stream capture failed",
				zap.String("camera", s.cfg.Render.CameraName),
				zap.Int("consecutive", consecutive),
				zap.Error(err),
			)
			if consecutive >= s.cfg.MaxErrors {
				return stats, fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyErrors, consecutive, err)
			}
			if werr := s.wait(ctx, Backoff(consecutive)); werr != nil {
				return stats, nil
			}
			continue
		}

		if werr := s.wait(ctx, interval-time.Since(started)); werr != nil {
			return stats, nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
