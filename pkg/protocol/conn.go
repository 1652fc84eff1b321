package protocol

import (
	"encoding/json"
	"io"

	"github.com/saker-ai/render-bridge/internal/transport/codec"
)

// Conn reads and writes protocol messages over a stream.
type Conn struct {
	r *codec.Reader
	w io.Writer
}

// NewConn wraps rw. maxFrame bounds a single frame payload; non-positive
// selects the codec default.
func NewConn(rw io.ReadWriter, maxFrame int) *Conn {
	return &Conn{r: codec.NewReader(rw, maxFrame), w: rw}
}

// WriteRequest sends one request frame.
func (c *Conn) WriteRequest(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return Wrap(CodeInvalidParams, "encode request", err)
	}
	return codec.WriteFrame(c.w, codec.KindJSON, data)
}

// ReadRequest reads exactly one request. Structural problems are reported
// as MalformedMessage, commands outside the protocol as UnknownCommand. I/O
// errors (including io.EOF on a closed stream) are returned unchanged.
func (c *Conn) ReadRequest() (Request, error) {
	payload, kind, err := c.r.ReadFrame()
	if err != nil {
		if codec.IsFramingError(err) {
			return Request{}, Wrap(CodeMalformedMessage, "read request frame", err)
		}
		return Request{}, err
	}
	if kind != codec.KindJSON {
		return Request{}, Errorf(CodeMalformedMessage, "request frame has %s payload", kind)
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, Wrap(CodeMalformedMessage, "decode request", err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// WriteResponse sends resp and, when data is non-nil, the binary attachment.
// The attachment length is always taken from data.
func (c *Conn) WriteResponse(resp Response, data []byte) error {
	if data != nil {
		if resp.Binary == nil {
			resp.Binary = &Attachment{ContentType: "application/octet-stream"}
		}
		resp.Binary.Length = len(data)
	} else {
		resp.Binary = nil
	}
	head, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := codec.WriteFrame(c.w, codec.KindJSON, head); err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	return codec.WriteFrame(c.w, codec.KindBinary, data)
}

// ReadResponse reads one response and its attachment, if declared. The
// returned bytes always match the declared length.
func (c *Conn) ReadResponse() (Response, []byte, error) {
	payload, kind, err := c.r.ReadFrame()
	if err != nil {
		if codec.IsFramingError(err) {
			return Response{}, nil, Wrap(CodeMalformedMessage, "read response frame", err)
		}
		return Response{}, nil, err
	}
	if kind != codec.KindJSON {
		return Response{}, nil, Errorf(CodeMalformedMessage, "response frame has %s payload", kind)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, nil, Wrap(CodeMalformedMessage, "decode response", err)
	}
	if resp.Status != StatusOK && resp.Status != StatusError {
		return Response{}, nil, Errorf(CodeMalformedMessage, "invalid response status %q", resp.Status)
	}
	if resp.Binary == nil {
		return resp, nil, nil
	}

	data, kind, err := c.r.ReadFrame()
	if err != nil {
		if codec.IsFramingError(err) {
			return Response{}, nil, Wrap(CodeMalformedMessage, "read attachment frame", err)
		}
		return Response{}, nil, err
	}
	if kind != codec.KindBinary {
		return Response{}, nil, Errorf(CodeMalformedMessage, "attachment frame has %s payload", kind)
	}
	if len(data) != resp.Binary.Length {
		return Response{}, nil, Errorf(CodeMalformedMessage, "attachment length %d, declared %d", len(data), resp.Binary.Length)
	}
	return resp, data, nil
}
