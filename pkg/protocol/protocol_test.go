package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/saker-ai/render-bridge/internal/transport/codec"
)

func TestRequestRoundTripOverConn(t *testing.T) {
	var stream bytes.Buffer
	conn := NewConn(&stream, 0)

	params, _ := json.Marshal(RenderParams{CameraName: "Camera.001", Width: 640, Height: 480, Format: FormatJPEG, Quality: 75})
	if err := conn.WriteRequest(Request{Command: CmdRenderCamera, Params: params}); err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}

	req, err := conn.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest returned error: %v", err)
	}
	if req.Command != CmdRenderCamera {
		t.Fatalf("command=%q, want %q", req.Command, CmdRenderCamera)
	}
	var got RenderParams
	if err := json.Unmarshal(req.Params, &got); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if got.CameraName != "Camera.001" || got.Width != 640 || got.Quality != 75 {
		t.Fatalf("params=%+v, want camera Camera.001 640 q75", got)
	}
}

func TestReadRequestUnknownCommand(t *testing.T) {
	var stream bytes.Buffer
	conn := NewConn(&stream, 0)
	if err := conn.WriteRequest(Request{Command: "execute_code"}); err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}

	_, err := conn.ReadRequest()
	if !IsCode(err, CodeUnknownCommand) {
		t.Fatalf("ReadRequest error=%v, want %s", err, CodeUnknownCommand)
	}
}

func TestReadRequestMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "invalid json", frame: codec.Pack(codec.KindJSON, []byte(`{"command":`))},
		{name: "missing command", frame: codec.Pack(codec.KindJSON, []byte(`{"params":{}}`))},
		{name: "binary request", frame: codec.Pack(codec.KindBinary, []byte{1, 2, 3})},
		{name: "garbage header", frame: []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")},
	}
	for _, tt := range tests {
		conn := NewConn(bytes.NewBuffer(tt.frame), 0)
		_, err := conn.ReadRequest()
		if !IsCode(err, CodeMalformedMessage) {
			t.Fatalf("%s: ReadRequest error=%v, want %s", tt.name, err, CodeMalformedMessage)
		}
	}
}

func TestResponseWithAttachment(t *testing.T) {
	var stream bytes.Buffer
	conn := NewConn(&stream, 0)

	image := bytes.Repeat([]byte{0xab}, 512)
	resp, err := OK(RenderInfo{Camera: "Camera", Width: 64, Height: 64, Format: FormatPNG, ContentType: "image/png", Length: len(image)})
	if err != nil {
		t.Fatalf("OK returned error: %v", err)
	}
	resp.Binary = &Attachment{ContentType: "image/png", Length: 1}
	if err := conn.WriteResponse(resp, image); err != nil {
		t.Fatalf("WriteResponse returned error: %v", err)
	}

	got, data, err := conn.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse returned error: %v", err)
	}
	if got.Binary == nil || got.Binary.Length != len(image) {
		t.Fatalf("attachment=%+v, want length %d", got.Binary, len(image))
	}
	if got.Binary.ContentType != "image/png" {
		t.Fatalf("content type=%q, want image/png", got.Binary.ContentType)
	}
	if !bytes.Equal(data, image) {
		t.Fatalf("data len=%d, want %d", len(data), len(image))
	}
	var info RenderInfo
	if err := got.Decode(&info); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if info.Camera != "Camera" {
		t.Fatalf("camera=%q, want Camera", info.Camera)
	}
}

func TestReadResponseLengthMismatch(t *testing.T) {
	var stream bytes.Buffer
	head, _ := json.Marshal(Response{Status: StatusOK, Binary: &Attachment{ContentType: "image/png", Length: 10}})
	_ = codec.WriteFrame(&stream, codec.KindJSON, head)
	_ = codec.WriteFrame(&stream, codec.KindBinary, []byte{1, 2, 3})

	_, _, err := NewConn(&stream, 0).ReadResponse()
	if !IsCode(err, CodeMalformedMessage) {
		t.Fatalf("ReadResponse error=%v, want %s", err, CodeMalformedMessage)
	}
}

func TestFailureResponseCarriesCode(t *testing.T) {
	resp := Failure(Errorf(CodeCameraNotFound, "camera %q not found", "Ghost"))
	if resp.Status != StatusError || resp.Code != CodeCameraNotFound {
		t.Fatalf("response=%+v, want error CameraNotFound", resp)
	}
	err := resp.Err()
	if !IsCode(err, CodeCameraNotFound) {
		t.Fatalf("Err()=%v, want %s", err, CodeCameraNotFound)
	}
	if !errors.Is(err, NewError(CodeCameraNotFound, "")) {
		t.Fatal("errors.Is by code=false, want true")
	}
}

func TestAsErrorClassifiesPlainErrors(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", NewError(CodeRateLimited, "too soon"))
	if got := CodeOf(wrapped); got != CodeRateLimited {
		t.Fatalf("CodeOf(wrapped)=%s, want %s", got, CodeRateLimited)
	}
	if got := CodeOf(errors.New("boom")); got != CodeRenderFailed {
		t.Fatalf("CodeOf(plain)=%s, want %s", got, CodeRenderFailed)
	}
	if CodeOf(nil) != "" {
		t.Fatal("CodeOf(nil) non-empty")
	}
}
