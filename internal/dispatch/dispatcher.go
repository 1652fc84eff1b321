// Package dispatch maps protocol commands onto the host render context.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/host"
	"github.com/saker-ai/render-bridge/internal/render"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

// Result is the outcome of one command. Binary is set only for render_camera.
type Result struct {
	Payload     any
	Binary      []byte
	ContentType string
}

type handler func(context.Context, json.RawMessage) (Result, error)

type requestIDKey struct{}

// WithRequestID attaches a request id used for logs and artifact names.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Dispatcher routes commands. It is not safe for concurrent use; callers run
// every Dispatch inside one critical section.
type Dispatcher struct {
	serializer *render.Serializer
	host       host.Host
	logger     *zap.Logger
	handlers   map[string]handler
}

// New creates a dispatcher over the serializer's host.
func New(serializer *render.Serializer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		serializer: serializer,
		host:       serializer.Host(),
		logger:     logger,
	}
	d.handlers = map[string]handler{
		protocol.CmdHealthCheck:  d.onHealthCheck,
		protocol.CmdGetSceneInfo: d.onGetSceneInfo,
		protocol.CmdListCameras:  d.onListCameras,
		protocol.CmdRenderCamera: d.onRenderCamera,
	}
	return d
}

// Dispatch runs command. Failures are logged and returned as *protocol.Error;
// a panicking handler is reported as RenderFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, params json.RawMessage) (res Result, err error) {
	started := time.Now()
	logger := d.logger.With(zap.String("command", command))
	if id := RequestID(ctx); id != "" {
		logger = logger.With(zap.String("request_id", id))
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("command panicked", zap.Any("panic", p))
			res = Result{}
			err = protocol.Errorf(protocol.CodeRenderFailed, "%s panicked: %v", command, p)
			return
		}
		if err != nil {
			err = protocol.AsError(err)
			logger.Warn("command failed",
				zap.String("code", string(protocol.CodeOf(err))),
				zap.Duration("duration", time.Since(started)),
				zap.Error(err),
			)
			return
		}
		logger.Debug("command handled", zap.Duration("duration", time.Since(started)))
	}()

	h, ok := d.handlers[command]
	if !ok {
		return Result{}, protocol.Errorf(protocol.CodeUnknownCommand, "unknown command: %s", command)
	}
	return h(ctx, params)
}

func (d *Dispatcher) onHealthCheck(_ context.Context, _ json.RawMessage) (Result, error) {
	scene, err := d.host.Scene()
	if err != nil {
		return Result{}, fmt.Errorf("read scene: %w", err)
	}
	stats := d.serializer.Stats()
	health := protocol.Health{
		Status:         "healthy",
		Version:        d.host.Version(),
		Scene:          scene.Name,
		Engine:         string(d.host.RenderSettings().Engine),
		RenderCount:    stats.RenderCount,
		CompletedCount: stats.CompletedCount,
		CleanupCount:   stats.CleanupCount,
	}
	if !stats.LastRender.IsZero() {
		last := stats.LastRender
		health.LastRender = &last
	}
	return Result{Payload: health}, nil
}

func (d *Dispatcher) onGetSceneInfo(_ context.Context, _ json.RawMessage) (Result, error) {
	scene, err := d.host.Scene()
	if err != nil {
		return Result{}, fmt.Errorf("read scene: %w", err)
	}
	settings := d.host.RenderSettings()
	return Result{Payload: protocol.SceneInfo{
		SceneName:    scene.Name,
		FrameStart:   scene.FrameStart,
		FrameEnd:     scene.FrameEnd,
		FrameCurrent: scene.FrameCurrent,
		Engine:       string(settings.Engine),
		Resolution:   [2]int{settings.ResolutionX, settings.ResolutionY},
		ActiveCamera: settings.Camera,
		Version:      d.host.Version(),
	}}, nil
}

func (d *Dispatcher) onListCameras(_ context.Context, _ json.RawMessage) (Result, error) {
	cameras, err := d.host.Cameras()
	if err != nil {
		return Result{}, fmt.Errorf("list cameras: %w", err)
	}
	active := d.host.RenderSettings().Camera
	list := protocol.CameraList{
		Cameras:      make([]protocol.Camera, 0, len(cameras)),
		ActiveCamera: active,
	}
	for _, c := range cameras {
		list.Cameras = append(list.Cameras, toCamera(c, c.Name == active))
	}
	list.Count = len(list.Cameras)
	return Result{Payload: list}, nil
}

func (d *Dispatcher) onRenderCamera(ctx context.Context, raw json.RawMessage) (Result, error) {
	params, err := parseRenderParams(raw)
	if err != nil {
		return Result{}, err
	}
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	out, err := d.serializer.Render(ctx, render.Request{
		ID:      id,
		Camera:  params.CameraName,
		Width:   params.Width,
		Height:  params.Height,
		Format:  params.Format,
		Quality: params.Quality,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Payload: protocol.RenderInfo{
			RequestID:    out.RequestID,
			Camera:       out.Camera,
			Width:        out.Width,
			Height:       out.Height,
			Format:       out.Format,
			ContentType:  out.ContentType,
			Length:       len(out.Data),
			Engine:       string(out.Engine),
			RenderTimeMS: out.Duration.Milliseconds(),
			RenderCount:  out.RenderCount,
		},
		Binary:      out.Data,
		ContentType: out.ContentType,
	}, nil
}

func parseRenderParams(raw json.RawMessage) (protocol.RenderParams, error) {
	var params protocol.RenderParams
	if len(raw) == 0 || string(raw) == "null" {
		return params, protocol.NewError(protocol.CodeInvalidParams, "camera_name is required")
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return params, protocol.Errorf(protocol.CodeInvalidParams, "parameter %s must be %s", typeErr.Field, typeErr.Type)
		}
		return params, protocol.Wrap(protocol.CodeInvalidParams, "invalid params", err)
	}
	if params.CameraName == "" {
		return params, protocol.NewError(protocol.CodeInvalidParams, "camera_name is required")
	}
	if params.Width < 0 || params.Height < 0 {
		return params, protocol.Errorf(protocol.CodeInvalidParams, "invalid size %dx%d", params.Width, params.Height)
	}
	if params.Format != "" {
		format, ok := render.NormalizeFormat(params.Format)
		if !ok {
			return params, protocol.Errorf(protocol.CodeInvalidParams, "unsupported format %q", params.Format)
		}
		params.Format = format
	}
	return params, nil
}

func toCamera(c host.Camera, active bool) protocol.Camera {
	matrix := c.MatrixWorld
	return protocol.Camera{
		Name:         c.Name,
		Location:     c.Location,
		Rotation:     c.Rotation,
		FocalLength:  c.Lens,
		SensorWidth:  c.SensorWidth,
		SensorHeight: c.SensorHeight,
		SensorFit:    c.SensorFit,
		Type:         c.Projection,
		Angle:        c.Angle,
		AngleX:       c.AngleX,
		AngleY:       c.AngleY,
		ClipStart:    c.ClipStart,
		ClipEnd:      c.ClipEnd,
		DOF: protocol.DepthOfField{
			Enabled:       c.DOFEnabled,
			FocusDistance: c.FocusDistance,
			FStop:         c.ApertureFStop,
		},
		Shift:       protocol.Shift{X: c.ShiftX, Y: c.ShiftY},
		MatrixWorld: &matrix,
		Active:      active,
	}
}
