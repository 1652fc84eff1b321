package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// Version is the only frame layout spoken on the bridge socket.
	Version = 1

	// HeaderSize is the fixed-width frame header length.
	HeaderSize = 16

	// DefaultMaxPayload bounds a single frame when no explicit limit is given.
	DefaultMaxPayload = 64 << 20

	payloadTypeJSON   = 0
	payloadTypeBinary = 1
)

// Kind describes the decoded payload category.
type Kind int

const (
	// KindJSON indicates a structured JSON message.
	KindJSON Kind = iota
	// KindBinary indicates raw bytes whose length was declared by the
	// preceding JSON frame.
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrFrameTooShort is returned when fewer than HeaderSize bytes are available.
	ErrFrameTooShort = errors.New("bridge frame too short")
	// ErrInvalidPayloadSize is returned when the declared size does not fit.
	ErrInvalidPayloadSize = errors.New("bridge frame invalid payload size")
	// ErrPayloadTooLarge is returned when the declared size exceeds the limit.
	ErrPayloadTooLarge = errors.New("bridge frame payload too large")
	// ErrUnsupportedVersion is returned for an unknown header version.
	ErrUnsupportedVersion = errors.New("bridge frame unsupported version")
	// ErrUnsupportedType is returned for an unknown payload type.
	ErrUnsupportedType = errors.New("bridge frame unsupported payload type")
)

// IsFramingError reports whether err describes a structurally broken frame
// (as opposed to an I/O failure on the underlying stream).
func IsFramingError(err error) bool {
	return errors.Is(err, ErrFrameTooShort) ||
		errors.Is(err, ErrInvalidPayloadSize) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnsupportedType)
}

// Pack creates a complete frame for payload.
func Pack(kind Kind, payload []byte) []byte {
	head := make([]byte, HeaderSize, HeaderSize+len(payload))
	putHeader(head, kind, len(payload))
	return append(head, payload...)
}

// Decode parses a single complete frame held in memory.
func Decode(frame []byte) ([]byte, Kind, error) {
	if len(frame) < HeaderSize {
		return nil, KindJSON, ErrFrameTooShort
	}
	kind, size, err := parseHeader(frame[:HeaderSize], DefaultMaxPayload)
	if err != nil {
		return nil, KindJSON, err
	}
	if size > len(frame)-HeaderSize {
		return nil, KindJSON, ErrInvalidPayloadSize
	}
	return frame[HeaderSize : HeaderSize+size], kind, nil
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	head := make([]byte, HeaderSize)
	putHeader(head, kind, len(payload))
	if _, err := w.Write(head); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// Reader splits a byte stream back into frames, buffering partial reads until
// a full header and the declared payload are available.
type Reader struct {
	r          *bufio.Reader
	maxPayload int
	head       [HeaderSize]byte
}

// NewReader wraps r. A non-positive maxPayload selects DefaultMaxPayload.
func NewReader(r io.Reader, maxPayload int) *Reader {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{r: bufio.NewReader(r), maxPayload: maxPayload}
}

// ReadFrame blocks until one full frame has been read. A clean EOF before any
// header byte is returned as io.EOF; EOF inside a frame is io.ErrUnexpectedEOF.
func (fr *Reader) ReadFrame() ([]byte, Kind, error) {
	if _, err := io.ReadFull(fr.r, fr.head[:]); err != nil {
		return nil, KindJSON, err
	}
	kind, size, err := parseHeader(fr.head[:], fr.maxPayload)
	if err != nil {
		return nil, KindJSON, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, KindJSON, err
	}
	return payload, kind, nil
}

func putHeader(head []byte, kind Kind, size int) {
	payloadType := uint16(payloadTypeJSON)
	if kind == KindBinary {
		payloadType = payloadTypeBinary
	}
	binary.BigEndian.PutUint16(head[0:2], Version)
	binary.BigEndian.PutUint16(head[2:4], payloadType)
	binary.BigEndian.PutUint32(head[4:8], 0)
	binary.BigEndian.PutUint32(head[8:12], uint32(time.Now().UnixMilli()))
	binary.BigEndian.PutUint32(head[12:16], uint32(size))
}

func parseHeader(head []byte, maxPayload int) (Kind, int, error) {
	if binary.BigEndian.Uint16(head[0:2]) != Version {
		return KindJSON, 0, ErrUnsupportedVersion
	}
	var kind Kind
	switch binary.BigEndian.Uint16(head[2:4]) {
	case payloadTypeJSON:
		kind = KindJSON
	case payloadTypeBinary:
		kind = KindBinary
	default:
		return KindJSON, 0, ErrUnsupportedType
	}
	size := int(binary.BigEndian.Uint32(head[12:16]))
	if size > maxPayload {
		return KindJSON, 0, ErrPayloadTooLarge
	}
	return kind, size, nil
}
