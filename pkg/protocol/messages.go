package protocol

import (
	"encoding/json"
	"time"
)

// Command names.
const (
	CmdHealthCheck  = "health_check"
	CmdGetSceneInfo = "get_scene_info"
	CmdListCameras  = "list_cameras"
	CmdRenderCamera = "render_camera"
)

// Status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Image formats accepted by render_camera.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

var knownCommands = map[string]struct{}{
	CmdHealthCheck:  {},
	CmdGetSceneInfo: {},
	CmdListCameras:  {},
	CmdRenderCamera: {},
}

// KnownCommand reports whether name is part of the protocol.
func KnownCommand(name string) bool {
	_, ok := knownCommands[name]
	return ok
}

// Request is a command sent from a caller to the bridge.
type Request struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Validate checks the command name against the protocol command set.
func (r Request) Validate() error {
	if r.Command == "" {
		return NewError(CodeMalformedMessage, "missing command")
	}
	if !KnownCommand(r.Command) {
		return Errorf(CodeUnknownCommand, "unknown command: %s", r.Command)
	}
	return nil
}

// Attachment declares the binary frame that follows a response.
type Attachment struct {
	ContentType string `json:"content_type"`
	Length      int    `json:"length"`
}

// Response is the bridge answer to one request.
type Response struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Binary  *Attachment     `json:"binary,omitempty"`
	Code    Code            `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK builds a successful response around payload.
func OK(payload any) (Response, error) {
	if payload == nil {
		return Response{Status: StatusOK}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: StatusOK, Payload: data}, nil
}

// Failure builds an error response from err.
func Failure(err error) Response {
	e := AsError(err)
	return Response{
		Status:  StatusError,
		Code:    e.Code,
		Message: e.Message,
	}
}

// Err returns the typed error carried by an error response, or nil.
func (r Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	code := r.Code
	if code == "" {
		code = CodeRenderFailed
	}
	return NewError(code, r.Message)
}

// Decode unmarshals the payload into v.
func (r Response) Decode(v any) error {
	if len(r.Payload) == 0 {
		return NewError(CodeMalformedMessage, "response has no payload")
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return Wrap(CodeMalformedMessage, "decode payload", err)
	}
	return nil
}

// RenderParams are the render_camera parameters. Zero numeric values and an
// empty format select the server defaults.
type RenderParams struct {
	CameraName string `json:"camera_name"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Format     string `json:"format,omitempty"`
	Quality    int    `json:"quality,omitempty"`
}

// Health is the health_check payload.
type Health struct {
	Status         string     `json:"status"`
	Version        string     `json:"version"`
	Scene          string     `json:"scene"`
	Engine         string     `json:"engine"`
	RenderCount    int64      `json:"render_count"`
	CompletedCount int64      `json:"completed_count"`
	CleanupCount   int64      `json:"cleanup_count"`
	LastRender     *time.Time `json:"last_render,omitempty"`
}

// SceneInfo is the get_scene_info payload.
type SceneInfo struct {
	SceneName    string `json:"scene_name"`
	FrameStart   int    `json:"frame_start"`
	FrameEnd     int    `json:"frame_end"`
	FrameCurrent int    `json:"frame_current"`
	Engine       string `json:"engine"`
	Resolution   [2]int `json:"resolution"`
	ActiveCamera string `json:"active_camera,omitempty"`
	Version      string `json:"version"`
}

// DepthOfField describes camera focus settings.
type DepthOfField struct {
	Enabled       bool    `json:"enabled"`
	FocusDistance float64 `json:"focus_distance"`
	FStop         float64 `json:"f_stop"`
}

// Shift is the camera composition shift.
type Shift struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Camera is one camera object reported by list_cameras.
type Camera struct {
	Name         string         `json:"name"`
	Location     [3]float64     `json:"location"`
	Rotation     [3]float64     `json:"rotation"`
	FocalLength  float64        `json:"focal_length"`
	SensorWidth  float64        `json:"sensor_width"`
	SensorHeight float64        `json:"sensor_height"`
	SensorFit    string         `json:"sensor_fit"`
	Type         string         `json:"type"`
	Angle        float64        `json:"angle"`
	AngleX       float64        `json:"angle_x"`
	AngleY       float64        `json:"angle_y"`
	ClipStart    float64        `json:"clip_start"`
	ClipEnd      float64        `json:"clip_end"`
	DOF          DepthOfField   `json:"dof"`
	Shift        Shift          `json:"shift"`
	MatrixWorld  *[4][4]float64 `json:"matrix_world"`
	Active       bool           `json:"active"`
}

// CameraList is the list_cameras payload.
type CameraList struct {
	Cameras      []Camera `json:"cameras"`
	Count        int      `json:"count"`
	ActiveCamera string   `json:"active_camera,omitempty"`
}

// RenderInfo is the render_camera payload describing the attached image.
type RenderInfo struct {
	RequestID    string `json:"request_id"`
	Camera       string `json:"camera"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       string `json:"format"`
	ContentType  string `json:"content_type"`
	Length       int    `json:"length"`
	Engine       string `json:"engine"`
	RenderTimeMS int64  `json:"render_time_ms"`
	RenderCount  int64  `json:"render_count"`
}
