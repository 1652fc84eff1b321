// Package client talks to a running render bridge.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/pkg/protocol"
)

// Result is a successful response. Data is set when the server attached a
// binary payload.
type Result struct {
	Payload     json.RawMessage
	Data        []byte
	ContentType string
}

// Decode unmarshals the JSON payload into v.
func (r Result) Decode(v any) error {
	return protocol.Response{Status: protocol.StatusOK, Payload: r.Payload}.Decode(v)
}

// Call sends one command and waits for its response. It never retries: a
// render that timed out here may still complete on the server.
//
// Failures are *protocol.Error values. ConnectionRefused and Timeout are
// produced locally, every other code comes from the server.
//
// A non-positive timeout uses ctx's deadline, or the default Timeout when
// ctx has none.
func Call(ctx context.Context, host string, port int, command string, params any, timeout time.Duration) (Result, error) {
	ctx, cancel := withCallTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, protocol.Wrap(protocol.CodeTimeout, "connect "+addr, err)
		}
		return Result{}, protocol.Wrap(protocol.CodeConnectionRefused, "connect "+addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	req := protocol.Request{Command: command}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Result{}, protocol.Wrap(protocol.CodeInvalidParams, "encode params", err)
		}
		req.Params = raw
	}

	pc := protocol.NewConn(conn, 0)
	if err := pc.WriteRequest(req); err != nil {
		return Result{}, transportError(ctx, "send request", err)
	}
	resp, data, err := pc.ReadResponse()
	if err != nil {
		return Result{}, transportError(ctx, "read response", err)
	}
	if err := resp.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Payload: resp.Payload, Data: data}
	if resp.Binary != nil {
		res.ContentType = resp.Binary.ContentType
	}
	return res, nil
}

func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		if _, ok := ctx.Deadline(); ok {
			return context.WithCancel(ctx)
		}
		timeout = DefaultConfig().Timeout
	}
	return context.WithTimeout(ctx, timeout)
}

func transportError(ctx context.Context, op string, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	if isTimeout(ctx, err) {
		return protocol.Wrap(protocol.CodeTimeout, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return protocol.Wrap(protocol.CodeConnectionRefused, op+": connection closed by server", err)
	}
	return protocol.Wrap(protocol.CodeConnectionRefused, op, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Client is a configured bridge endpoint.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Call sends command with the general timeout.
func (c *Client) Call(ctx context.Context, command string, params any) (Result, error) {
	return c.call(ctx, command, params, c.cfg.Timeout)
}

func (c *Client) call(ctx context.Context, command string, params any, timeout time.Duration) (Result, error) {
	started := time.Now()
	res, err := Call(ctx, c.cfg.Host, c.cfg.Port, command, params, timeout)
	if err != nil {
		c.logger.Debug("bridge call failed",
			zap.String("command", command),
			zap.String("code", string(protocol.CodeOf(err))),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err),
		)
		return Result{}, err
	}
	c.logger.Debug("bridge call",
		zap.String("command", command),
		zap.Int("bytes", len(res.Data)),
		zap.Duration("duration", time.Since(started)),
	)
	return res, nil
}

// HealthCheck reports host liveness.
func (c *Client) HealthCheck(ctx context.Context) (protocol.Health, error) {
	var health protocol.Health
	res, err := c.Call(ctx, protocol.CmdHealthCheck, nil)
	if err != nil {
		return health, err
	}
	return health, res.Decode(&health)
}

// SceneInfo describes the active scene.
func (c *Client) SceneInfo(ctx context.Context) (protocol.SceneInfo, error) {
	var info protocol.SceneInfo
	res, err := c.Call(ctx, protocol.CmdGetSceneInfo, nil)
	if err != nil {
		return info, err
	}
	return info, res.Decode(&info)
}

// ListCameras enumerates the scene cameras.
func (c *Client) ListCameras(ctx context.Context) (protocol.CameraList, error) {
	var list protocol.CameraList
	res, err := c.Call(ctx, protocol.CmdListCameras, nil)
	if err != nil {
		return list, err
	}
	return list, res.Decode(&list)
}

// Frame is one rendered image.
type Frame struct {
	Info        protocol.RenderInfo
	Data        []byte
	ContentType string
}

// RenderCamera renders one frame using the render timeout.
func (c *Client) RenderCamera(ctx context.Context, params protocol.RenderParams) (Frame, error) {
	if params.CameraName == "" {
		return Frame{}, protocol.NewError(protocol.CodeInvalidParams, "camera_name is required")
	}
	res, err := c.call(ctx, protocol.CmdRenderCamera, params, c.cfg.RenderTimeout)
	if err != nil {
		return Frame{}, err
	}
	var info protocol.RenderInfo
	if err := res.Decode(&info); err != nil {
		return Frame{}, err
	}
	if len(res.Data) == 0 {
		return Frame{}, protocol.NewError(protocol.CodeEmptyRenderResult, "response carried no image")
	}
	return Frame{Info: info, Data: res.Data, ContentType: res.ContentType}, nil
}
