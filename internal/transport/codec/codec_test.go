package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestPackDecodeJSON(t *testing.T) {
	payload := []byte(`{"command":"health_check"}`)
	frame := Pack(KindJSON, payload)

	got, kind, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if kind != KindJSON {
		t.Fatalf("Decode kind=%v, want %v", kind, KindJSON)
	}
	if string(got) != string(payload) {
		t.Fatalf("Decode payload=%q, want %q", got, payload)
	}
}

func TestPackDecodeBinary(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x0a}
	frame := Pack(KindBinary, payload)

	got, kind, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if kind != KindBinary {
		t.Fatalf("Decode kind=%v, want %v", kind, KindBinary)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Decode payload=%v, want %v", got, payload)
	}
}

func TestDecodeInvalidPayloadSize(t *testing.T) {
	frame := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(frame[0:2], Version)
	binary.BigEndian.PutUint16(frame[2:4], payloadTypeJSON)
	binary.BigEndian.PutUint32(frame[12:16], 10)

	_, _, err := Decode(frame)
	if !errors.Is(err, ErrInvalidPayloadSize) {
		t.Fatalf("Decode error=%v, want %v", err, ErrInvalidPayloadSize)
	}
}

func TestDecodeRejectsUnknownVersionAndType(t *testing.T) {
	frame := Pack(KindJSON, []byte("{}"))
	binary.BigEndian.PutUint16(frame[0:2], 9)
	if _, _, err := Decode(frame); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Decode error=%v, want %v", err, ErrUnsupportedVersion)
	}

	frame = Pack(KindJSON, []byte("{}"))
	binary.BigEndian.PutUint16(frame[2:4], 7)
	if _, _, err := Decode(frame); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("Decode error=%v, want %v", err, ErrUnsupportedType)
	}
	if !IsFramingError(ErrUnsupportedType) {
		t.Fatal("IsFramingError(ErrUnsupportedType)=false, want true")
	}
}

func TestReaderBuffersPartialReads(t *testing.T) {
	var stream bytes.Buffer
	if err := WriteFrame(&stream, KindJSON, []byte(`{"status":"ok"}`)); err != nil {
		t.Fatalf("WriteFrame returned error: %v", err)
	}
	image := bytes.Repeat([]byte{0xff, 0x00}, 300)
	if err := WriteFrame(&stream, KindBinary, image); err != nil {
		t.Fatalf("WriteFrame returned error: %v", err)
	}

	reader := NewReader(iotest.OneByteReader(&stream), 0)

	first, kind, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame returned error: %v", err)
	}
	if kind != KindJSON || string(first) != `{"status":"ok"}` {
		t.Fatalf("ReadFrame=(%q,%v), want json status frame", first, kind)
	}

	second, kind, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame returned error: %v", err)
	}
	if kind != KindBinary || !bytes.Equal(second, image) {
		t.Fatalf("ReadFrame kind=%v len=%d, want binary len=%d", kind, len(second), len(image))
	}

	if _, _, err := reader.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame at end error=%v, want io.EOF", err)
	}
}

func TestReaderTruncatedPayload(t *testing.T) {
	frame := Pack(KindBinary, make([]byte, 32))
	reader := NewReader(bytes.NewReader(frame[:HeaderSize+8]), 0)

	if _, _, err := reader.ReadFrame(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("ReadFrame error=%v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReaderEnforcesLimit(t *testing.T) {
	frame := Pack(KindJSON, make([]byte, 128))
	reader := NewReader(bytes.NewReader(frame), 64)

	if _, _, err := reader.ReadFrame(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("ReadFrame error=%v, want %v", err, ErrPayloadTooLarge)
	}
}
