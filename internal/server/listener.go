// Package server hosts the render bridge TCP listener inside the host
// process.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/dispatch"
	"github.com/saker-ai/render-bridge/internal/render"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

// Config controls the listener.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	MaxConnections int           `mapstructure:"max_connections"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	HandleTimeout  time.Duration `mapstructure:"handle_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxFrameBytes  int           `mapstructure:"max_frame_bytes"`
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port < 0 {
		c.Port = 8765
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = 120 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	return c
}

// RenderStatus mirrors the serializer counters.
type RenderStatus struct {
	State          string     `json:"state"`
	RenderCount    int64      `json:"render_count"`
	CompletedCount int64      `json:"completed_count"`
	CleanupCount   int64      `json:"cleanup_count"`
	LastRender     *time.Time `json:"last_render,omitempty"`
	MinIntervalMS  int64      `json:"min_interval_ms"`
	CleanupEvery   int        `json:"cleanup_every"`
	GPUSync        bool       `json:"gpu_sync"`
}

// Status is the process-wide server state.
type Status struct {
	Running           bool         `json:"running"`
	Host              string       `json:"host"`
	Port              int          `json:"port"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	ActiveConnections int64        `json:"active_connections"`
	TotalConnections  int64        `json:"total_connections"`
	Requests          int64        `json:"requests"`
	Failures          int64        `json:"failures"`
	Render            RenderStatus `json:"render"`
}

// Listener accepts bridge connections and feeds requests to one dispatch
// worker.
type Listener struct {
	cfg        Config
	serializer *render.Serializer
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	mu        sync.Mutex
	ln        net.Listener
	queue     *queue
	slots     chan struct{}
	done      chan struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
	port      int
	startedAt time.Time

	active   atomic.Int64
	total    atomic.Int64
	requests atomic.Int64
	failures atomic.Int64
}

// NewListener creates a stopped listener serving serializer's host.
func NewListener(cfg Config, serializer *render.Serializer, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		cfg:        cfg.withDefaults(),
		serializer: serializer,
		dispatcher: dispatch.New(serializer, logger),
		logger:     logger,
	}
}

// Start binds the configured address. It is a no-op when already running.
// A bind failure is reported as ServerStartFailed.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return nil
	}

	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		l.logger.Error("bridge listener bind failed", zap.String("addr", addr), zap.Error(err))
		return protocol.Wrap(protocol.CodeServerStartFailed, "bind "+addr, err)
	}

	l.ln = ln
	l.port = ln.Addr().(*net.TCPAddr).Port
	l.startedAt = time.Now()
	l.slots = make(chan struct{}, l.cfg.MaxConnections)
	l.done = make(chan struct{})
	l.conns = make(map[net.Conn]struct{})
	l.queue = newQueue(l.dispatcher, l.logger, l.cfg.MaxConnections)
	l.queue.start()

	l.wg.Add(1)
	go l.serve(ln, l.queue, l.slots, l.done)

	l.logger.Info("bridge listener started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", l.cfg.MaxConnections),
	)
	return nil
}

// Stop closes the listener and open connections and releases the port. The
// in-flight request, if any, finishes its settings restore before Stop
// returns.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln := l.ln
	if ln == nil {
		l.mu.Unlock()
		return nil
	}
	l.ln = nil
	q := l.queue
	port := l.port
	close(l.done)
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	err := ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	q.cancel()
	l.wg.Wait()
	q.stop()

	l.logger.Info("bridge listener stopped", zap.Int("port", port))
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or "" when stopped.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Status reports the server state. Safe to call at any time.
func (l *Listener) Status() Status {
	l.mu.Lock()
	running := l.ln != nil
	port := l.cfg.Port
	var started *time.Time
	if running {
		port = l.port
		t := l.startedAt
		started = &t
	}
	l.mu.Unlock()

	stats := l.serializer.Stats()
	rs := RenderStatus{
		State:          string(stats.State),
		RenderCount:    stats.RenderCount,
		CompletedCount: stats.CompletedCount,
		CleanupCount:   stats.CleanupCount,
		MinIntervalMS:  stats.MinInterval.Milliseconds(),
		CleanupEvery:   stats.CleanupEvery,
		GPUSync:        stats.GPUSync,
	}
	if !stats.LastRender.IsZero() {
		last := stats.LastRender
		rs.LastRender = &last
	}
	return Status{
		Running:           running,
		Host:              l.cfg.Host,
		Port:              port,
		StartedAt:         started,
		ActiveConnections: l.active.Load(),
		TotalConnections:  l.total.Load(),
		Requests:          l.requests.Load(),
		Failures:          l.failures.Load(),
		Render:            rs,
	}
}

func (l *Listener) serve(ln net.Listener, q *queue, slots chan struct{}, done chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case slots <- struct{}{}:
		case <-done:
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			<-slots
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("bridge accept failed", zap.Error(err))
			select {
			case <-time.After(50 * time.Millisecond):
			case <-done:
				return
			}
			continue
		}
		if !l.track(conn) {
			_ = conn.Close()
			<-slots
			return
		}
		l.wg.Add(1)
		go func() {
			defer func() { <-slots }()
			l.handleConn(conn, q)
		}()
	}
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		return false
	default:
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

func (l *Listener) handleConn(conn net.Conn, q *queue) {
	defer l.wg.Done()
	defer l.untrack(conn)
	defer conn.Close()

	l.active.Add(1)
	l.total.Add(1)
	defer l.active.Add(-1)

	logger := l.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
	logger.Debug("bridge connection opened")
	defer logger.Debug("bridge connection closed")

	pc := protocol.NewConn(conn, l.cfg.MaxFrameBytes)
	wait := l.cfg.ReadTimeout
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		wait = l.cfg.IdleTimeout

		req, err := pc.ReadRequest()
		if err != nil {
			if !l.rejectRequest(conn, pc, logger, err) {
				return
			}
			continue
		}

		l.requests.Add(1)
		requestID := uuid.NewString()
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.HandleTimeout)
		ctx = dispatch.WithRequestID(ctx, requestID)
		res, err := q.submit(ctx, req.Command, req.Params)
		cancel()

		if err != nil {
			l.failures.Add(1)
			if protocol.IsCode(err, protocol.CodeTimeout) {
				logger.Warn("request timed out",
					zap.String("command", req.Command),
					zap.String("request_id", requestID),
					zap.Duration("timeout", l.cfg.HandleTimeout),
				)
			}
		}
		if werr := l.respond(conn, pc, res, err); werr != nil {
			logger.Warn("write response failed", zap.String("request_id", requestID), zap.Error(werr))
			return
		}
	}
}

// rejectRequest answers a request that could not be read. It reports whether
// the connection can carry another request.
func (l *Listener) rejectRequest(conn net.Conn, pc *protocol.Conn, logger *zap.Logger, err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return false
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("bridge connection idle", zap.Error(err))
		return false
	case protocol.IsCode(err, protocol.CodeUnknownCommand):
		l.failures.Add(1)
		logger.Warn("unknown command", zap.Error(err))
		return l.respond(conn, pc, dispatch.Result{}, err) == nil
	case protocol.IsCode(err, protocol.CodeMalformedMessage):
		l.failures.Add(1)
		logger.Warn("malformed request", zap.Error(err))
		_ = l.respond(conn, pc, dispatch.Result{}, err)
		return false
	default:
		logger.Debug("bridge read failed", zap.Error(err))
		return false
	}
}

func (l *Listener) respond(conn net.Conn, pc *protocol.Conn, res dispatch.Result, err error) error {
	_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err != nil {
		return pc.WriteResponse(protocol.Failure(err), nil)
	}
	resp, merr := protocol.OK(res.Payload)
	if merr != nil {
		l.failures.Add(1)
		return pc.WriteResponse(protocol.Failure(protocol.Wrap(protocol.CodeRenderFailed, "encode payload", merr)), nil)
	}
	if res.Binary != nil {
		resp.Binary = &protocol.Attachment{ContentType: res.ContentType}
	}
	return pc.WriteResponse(resp, res.Binary)
}
