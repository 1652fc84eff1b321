// Package render owns the single shared renderer of the host. All access to
// render settings and the render call goes through one Serializer.
package render

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/host"
	"github.com/saker-ai/render-bridge/internal/render/fsm"
	"github.com/saker-ai/render-bridge/internal/storage"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

// Result is one encoded frame. It is never cached.
type Result struct {
	RequestID   string
	Camera      string
	Width       int
	Height      int
	Format      string
	ContentType string
	Engine      host.Engine
	Data        []byte
	Duration    time.Duration
	RenderCount int64
}

// Stats is a point-in-time view of the serializer counters.
type Stats struct {
	State          fsm.State
	RenderCount    int64
	CompletedCount int64
	CleanupCount   int64
	LastRender     time.Time
	MinInterval    time.Duration
	CleanupEvery   int
	GPUSync        bool
}

// Option customises a Serializer.
type Option func(*Serializer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Serializer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the time source and the sleep used for settle and GC
// pauses.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Serializer) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithArtifacts sets where encoded frames are written before readback.
func WithArtifacts(a *storage.Artifacts) Option {
	return func(s *Serializer) {
		if a != nil {
			s.artifacts = a
		}
	}
}

// Serializer guards the host renderer. At most one Render runs at a time and
// every admitted Render restores the settings it found.
type Serializer struct {
	host      host.Host
	gpu       host.GPUSyncer
	cfg       Config
	artifacts *storage.Artifacts
	logger    *zap.Logger
	machine   *fsm.Machine
	now       func() time.Time
	sleep     func(time.Duration)

	// run is held for the whole of Render.
	run sync.Mutex

	mu         sync.RWMutex
	lastRender time.Time
	renders    int64
	completed  int64
	cleanups   int64
	onCleanup  func(CleanupReport)
}

// New creates a serializer driving h.
func New(h host.Host, cfg Config, opts ...Option) *Serializer {
	cfg = cfg.withDefaults()
	s := &Serializer{
		host:    h,
		cfg:     cfg,
		logger:  zap.NewNop(),
		machine: fsm.New(),
		now:     time.Now,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.artifacts == nil {
		s.artifacts = storage.NewArtifacts(cfg.TempDir)
	}
	// Optional capability, probed once.
	if syncer, ok := h.(host.GPUSyncer); ok {
		s.gpu = syncer
	}
	s.machine.OnChange(func(from, to fsm.State) {
		s.logger.Debug("render state", zap.String("from", string(from)), zap.String("state", string(to)))
	})
	return s
}

// Config returns the effective configuration.
func (s *Serializer) Config() Config {
	return s.cfg
}

// Host returns the render context handle.
func (s *Serializer) Host() host.Host {
	return s.host
}

// OnCleanup registers a hook called after every periodic sweep.
func (s *Serializer) OnCleanup(fn func(CleanupReport)) {
	s.mu.Lock()
	s.onCleanup = fn
	s.mu.Unlock()
}

// Stats returns the current counters. Safe to call at any time.
func (s *Serializer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		State:          s.machine.State(),
		RenderCount:    s.renders,
		CompletedCount: s.completed,
		CleanupCount:   s.cleanups,
		LastRender:     s.lastRender,
		MinInterval:    s.cfg.MinInterval,
		CleanupEvery:   s.cfg.CleanupEvery,
		GPUSync:        s.gpu != nil,
	}
}

// Render produces one frame from req.Camera. The host render settings are
// identical before and after the call whatever the outcome.
func (s *Serializer) Render(ctx context.Context, req Request) (res Result, err error) {
	s.run.Lock()
	defer s.run.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, protocol.Wrap(protocol.CodeTimeout, "render abandoned before admission", err)
	}
	if err := s.admit(); err != nil {
		return Result{}, err
	}

	req = s.cfg.Clamp(req)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := s.logger.With(zap.String("request_id", req.ID), zap.String("camera", req.Camera))
	started := s.now()

	s.mu.Lock()
	s.renders++
	count := s.renders
	s.mu.Unlock()
	s.track(s.machine.OnAdmitted())

	var (
		snapshot host.RenderSettings
		restore  bool
	)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("render panicked", zap.Any("panic", p))
			res = Result{}
			err = protocol.Errorf(protocol.CodeRenderFailed, "render panicked: %v", p)
		}
		if err = s.finish(logger, snapshot, restore, err); err != nil {
			res = Result{}
		}
	}()

	kind, ok := s.host.ObjectType(req.Camera)
	if !ok {
		return Result{}, protocol.Errorf(protocol.CodeCameraNotFound, "camera %q not found", req.Camera)
	}
	if kind != host.ObjectCamera {
		return Result{}, protocol.Errorf(protocol.CodeCameraNotFound, "object %q is not a camera", req.Camera)
	}

	snapshot = s.host.RenderSettings()
	restore = true
	s.preCleanup(logger)

	path, err := s.artifacts.Path(req.ID, extension(req.Format))
	if err != nil {
		return Result{}, protocol.Wrap(protocol.CodeEncodeFailed, "allocate output path", err)
	}
	defer func() {
		if rmErr := s.artifacts.Remove(path); rmErr != nil {
			logger.Warn("remove render artifact failed", zap.String("path", path), zap.Error(rmErr))
		}
	}()

	settings := s.cfg.overrides(snapshot, req, path)
	if settings.Engine != snapshot.Engine {
		logger.Info("render engine overridden",
			zap.String("engine", string(snapshot.Engine)),
			zap.String("fallback", string(settings.Engine)),
		)
	}
	if err := s.host.ApplyRenderSettings(settings); err != nil {
		return Result{}, protocol.Wrap(protocol.CodeRenderFailed, "apply render settings", err)
	}
	for i := 0; i < s.cfg.DepsgraphPasses; i++ {
		if err := s.host.UpdateDepsgraph(); err != nil {
			return Result{}, protocol.Wrap(protocol.CodeRenderFailed, "update depsgraph", err)
		}
	}
	if s.cfg.SettleDelay > 0 {
		s.sleep(s.cfg.SettleDelay)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, protocol.Wrap(protocol.CodeTimeout, "render abandoned before start", err)
	}

	s.track(s.machine.OnRenderStart())
	if err := s.host.Render(); err != nil {
		return Result{}, protocol.Wrap(protocol.CodeRenderFailed, "render failed", err)
	}
	s.track(s.machine.OnRenderDone())

	img, ok := s.host.RenderResult()
	if !ok {
		return Result{}, protocol.NewError(protocol.CodeEmptyRenderResult, "no render result generated")
	}
	if img.Width <= 0 || img.Height <= 0 || img.Pixels <= 0 {
		return Result{}, protocol.Errorf(protocol.CodeEmptyRenderResult, "render produced empty pixel data (%dx%d)", img.Width, img.Height)
	}

	data, err := s.readback(path)
	if err != nil {
		return Result{}, err
	}

	elapsed := s.now().Sub(started)
	logger.Info("render completed",
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.String("format", req.Format),
		zap.String("engine", string(settings.Engine)),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", elapsed),
		zap.Int64("render_count", count),
	)
	return Result{
		RequestID:   req.ID,
		Camera:      req.Camera,
		Width:       req.Width,
		Height:      req.Height,
		Format:      req.Format,
		ContentType: ContentType(req.Format),
		Engine:      settings.Engine,
		Data:        data,
		Duration:    elapsed,
		RenderCount: count,
	}, nil
}

func (s *Serializer) admit() error {
	s.mu.RLock()
	last := s.lastRender
	s.mu.RUnlock()
	if last.IsZero() {
		return nil
	}
	since := s.now().Sub(last)
	if since >= s.cfg.MinInterval {
		return nil
	}
	s.track(s.machine.OnAdmissionRejected())
	s.track(s.machine.OnSettled())
	return protocol.Errorf(protocol.CodeRateLimited,
		"render requested %s after the previous one, minimum interval is %s",
		since.Round(time.Millisecond), s.cfg.MinInterval)
}

func (s *Serializer) readback(path string) ([]byte, error) {
	if err := s.host.SaveRenderResult(path); err != nil {
		if errors.Is(err, host.ErrNoRenderResult) {
			return nil, protocol.Wrap(protocol.CodeEmptyRenderResult, "save render result", err)
		}
		return nil, protocol.Wrap(protocol.CodeEncodeFailed, "save render result", err)
	}
	data, err := s.artifacts.Read(path)
	if err != nil {
		return nil, protocol.Wrap(protocol.CodeEncodeFailed, "read render output", err)
	}
	if len(data) < s.cfg.MinImageBytes {
		return nil, protocol.Errorf(protocol.CodeEncodeFailed,
			"render output too small: %d bytes, want at least %d", len(data), s.cfg.MinImageBytes)
	}
	return data, nil
}

// finish runs on every exit path after admission and returns the request
// outcome. A render whose settings could not be restored fails.
func (s *Serializer) finish(logger *zap.Logger, snapshot host.RenderSettings, restore bool, err error) error {
	if err != nil {
		s.track(s.machine.OnFailure())
	}
	if restore {
		if rerr := s.restore(logger, snapshot); rerr != nil {
			logger.Error("restore render settings failed", zap.Error(rerr))
			if err == nil {
				s.track(s.machine.OnFailure())
				err = protocol.Wrap(protocol.CodeRenderFailed, "restore render settings", rerr)
			}
		}
	}
	s.host.DiscardRenderResult()
	s.host.CollectGarbage()
	s.syncGPU(logger)

	s.mu.Lock()
	s.lastRender = s.now()
	due := false
	if err == nil {
		s.completed++
		due = s.completed%int64(s.cfg.CleanupEvery) == 0
	}
	completed := s.completed
	s.mu.Unlock()

	if due {
		s.sweep(logger, completed)
	}
	s.track(s.machine.OnSettled())
	return err
}

// restore writes snapshot back. When the host rejects it because the scene
// camera it names is gone, the rest of the snapshot is written without a
// camera.
func (s *Serializer) restore(logger *zap.Logger, snapshot host.RenderSettings) error {
	err := s.host.ApplyRenderSettings(snapshot)
	if err == nil || snapshot.Camera == "" {
		return err
	}
	logger.Warn("restore without scene camera",
		zap.String("scene_camera", snapshot.Camera),
		zap.Error(err),
	)
	snapshot.Camera = ""
	if rerr := s.host.ApplyRenderSettings(snapshot); rerr != nil {
		return errors.Join(err, rerr)
	}
	return nil
}

// track reports transitions the state machine refused.
func (s *Serializer) track(err error) {
	if err != nil {
		s.logger.Debug("render state transition rejected",
			zap.String("state", string(s.machine.State())),
			zap.Error(err),
		)
	}
}

func (s *Serializer) preCleanup(logger *zap.Logger) {
	s.host.DiscardRenderResult()
	if n, err := s.host.PurgeOrphans(); err != nil {
		logger.Warn("purge orphans failed", zap.Error(err))
	} else if n > 0 {
		logger.Debug("purged orphans", zap.Int("count", n))
	}
	s.host.CollectGarbage()
}

func (s *Serializer) syncGPU(logger *zap.Logger) {
	if s.gpu == nil {
		return
	}
	if err := s.gpu.SyncGPU(); err != nil {
		logger.Debug("gpu sync failed", zap.Error(err))
	}
}
