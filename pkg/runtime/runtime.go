// Package runtime wires the bridge into an embeddable server: the render
// listener plus its optional control panel.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/render-bridge/internal/config"
	"github.com/saker-ai/render-bridge/internal/host/sim"
	apphttp "github.com/saker-ai/render-bridge/internal/http"
	applogger "github.com/saker-ai/render-bridge/internal/logger"
	"github.com/saker-ai/render-bridge/internal/render"
	"github.com/saker-ai/render-bridge/internal/server"
	"github.com/saker-ai/render-bridge/internal/storage"
	"github.com/saker-ai/render-bridge/internal/ws"
)

// staleArtifactAge is how old a leftover render file must be before startup
// removes it.
const staleArtifactAge = 10 * time.Minute

// Server owns the render listener and the control panel.
type Server struct {
	cfg        appconfig.Config
	logger     *zap.Logger
	host       *sim.Host
	serializer *render.Serializer
	listener   *server.Listener
	events     *ws.Handler
	panel      *http.Server

	mu        sync.Mutex
	panelAddr string
}

// New loads the configuration at configPath (empty for the default lookup)
// and builds every component without binding any port.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load bridge config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("log config rejected, using production defaults", zap.Error(err))
	}
	logger.Info("bridge logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("bridge config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.Int("socket_port", cfg.Socket.Port),
		zap.Bool("panel_enabled", cfg.Panel.Enabled),
	)

	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds the server from an already loaded configuration.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	h, err := loadScene(cfg.Scene)
	if err != nil {
		return nil, err
	}
	if cfg.Scene.Version != "" {
		h.SetVersion(cfg.Scene.Version)
	}
	scene, _ := h.Scene()
	logger.Info("scene loaded",
		zap.String("scene", scene.Name),
		zap.String("path", cfg.Scene.Path),
		zap.String("version", h.Version()),
	)

	artifacts := storage.NewArtifacts(cfg.Render.TempDir)
	if removed, err := artifacts.Sweep(staleArtifactAge); err != nil {
		logger.Warn("stale render artifacts sweep failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info("removed stale render artifacts", zap.Int("count", removed))
	}

	serializer := render.New(h, cfg.Render,
		render.WithLogger(applogger.Component(logger, applogger.ComponentRender)),
		render.WithArtifacts(artifacts),
	)
	listener := server.NewListener(cfg.Socket, serializer, applogger.Component(logger, applogger.ComponentListener))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		host:       h,
		serializer: serializer,
		listener:   listener,
	}

	if cfg.Panel.Enabled {
		s.events = ws.NewHandler(applogger.Component(logger, applogger.ComponentEvents), listener, cfg.Panel.StatusInterval)
		serializer.OnCleanup(func(render.CleanupReport) {
			s.events.Broadcast(ws.EventCleanup)
		})
		s.panel = &http.Server{
			Addr:    cfg.Panel.Addr(),
			Handler: apphttp.NewRouter(listener, s.events, applogger.Component(logger, applogger.ComponentPanel)),
		}
	}
	return s, nil
}

func loadScene(cfg appconfig.SceneConfig) (*sim.Host, error) {
	path, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return sim.Default()
	}
	return sim.Load(path)
}

// Listener exposes the render listener.
func (s *Server) Listener() *server.Listener {
	return s.listener
}

// Logger returns the configured logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Run starts the render listener when auto_start is set and serves the
// control panel until Shutdown. Without a panel it returns once the
// listener is up.
func (s *Server) Run() error {
	if s == nil {
		return nil
	}
	if s.cfg.AutoStart {
		if err := s.listener.Start(); err != nil {
			return err
		}
	}
	if s.panel == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.panel.Addr)
	if err != nil {
		return fmt.Errorf("bind control panel %s: %w", s.panel.Addr, err)
	}
	s.mu.Lock()
	s.panelAddr = ln.Addr().String()
	s.mu.Unlock()
	s.logger.Info("starting control panel", zap.String("addr", ln.Addr().String()))

	if err := s.panel.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound control panel address, or the configured one
// before Run binds it.
func (s *Server) Addr() string {
	if s == nil || s.panel == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panelAddr != "" {
		return s.panelAddr
	}
	return s.panel.Addr
}

// Shutdown stops the control panel and then the render listener. An
// in-flight render finishes its settings restore before the listener
// stops.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.panel != nil {
		errs = append(errs, ignoreServerClosed(s.panel.Shutdown(ctx)))
	}

	done := make(chan error, 1)
	go func() { done <- s.listener.Stop() }()
	select {
	case err := <-done:
		errs = append(errs, err)
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("stop render listener: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
