package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

var (
	// ErrFraming covers malformed length prefixes, short reads and
	// sockets closed mid-frame.
	ErrFraming = errors.New("framing error")

	// ErrParse covers metadata or container payloads that fail to
	// parse or decompress.
	ErrParse = errors.New("parse error")
)

const (
	// maxMetaSize bounds the uncompressed MetaData payload
	maxMetaSize = 1 << 20

	// maxContainerSize bounds the compressed container payload
	maxContainerSize = 256 << 20
)

// MessageType routes a frame to its handler. Values the server does not
// recognise are treated as new-job submissions, which keeps older clients
// that never send an explicit NEW_JOB tag working.
type MessageType int

const (
	TypeAuth              MessageType = 0
	TypeCreateUser        MessageType = 1
	TypeAvailableHandlers MessageType = 2
	TypeStatus            MessageType = 3
	TypeResult            MessageType = 4
	TypeAbortJob          MessageType = 5
	TypeDeleteJob         MessageType = 6
	TypeOriginGraph       MessageType = 7
	TypeNewJob            MessageType = 8
	TypeNewJobResponse    MessageType = 9
	TypeError             MessageType = 10
)

// Credentials carries the per-message authentication material
type Credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// MetaData is the uncompressed frame header. ContainerSize is the byte
// length of the compressed container that follows; zero means no body.
type MetaData struct {
	Type          MessageType `json:"type"`
	ContainerSize uint64      `json:"containersize"`
	HandlerType   string      `json:"handlertype,omitempty"`
	JobName       string      `json:"jobname,omitempty"`
	User          Credentials `json:"user"`
}

// ReadMeta reads one length-prefixed MetaData payload from r
func ReadMeta(r io.Reader) (*MetaData, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading length prefix: %v", ErrFraming, err)
	}
	length := binary.BigEndian.Uint64(lenBuf[:])
	if length == 0 || length > maxMetaSize {
		return nil, fmt.Errorf("%w: metadata length %d out of range", ErrFraming, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading metadata: %v", ErrFraming, err)
	}

	meta := &MetaData{}
	if err := json.Unmarshal(payload, meta); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata: %v", ErrParse, err)
	}
	return meta, nil
}

// ReadContainer reads a compressed container of exactly size bytes from r
// and returns the decompressed payload.
func ReadContainer(r io.Reader, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if size > maxContainerSize {
		return nil, fmt.Errorf("%w: container length %d out of range", ErrFraming, size)
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: reading container: %v", ErrFraming, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing container: %v", ErrParse, err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(io.LimitReader(zr, maxContainerSize))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing container: %v", ErrParse, err)
	}
	return payload, nil
}

// Compress gzips a container payload for the wire
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress container: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress container: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFrame writes one frame: the length-prefixed metadata followed by
// the gzip-compressed container. The container may be nil; meta's
// ContainerSize is overwritten with the compressed length.
func WriteFrame(w io.Writer, meta *MetaData, container []byte) error {
	var compressed []byte
	if len(container) > 0 {
		var err error
		compressed, err = Compress(container)
		if err != nil {
			return err
		}
	}
	meta.ContainerSize = uint64(len(compressed))

	header, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(header)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if len(compressed) > 0 {
		if _, err := w.Write(compressed); err != nil {
			return fmt.Errorf("failed to write container: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one full frame: metadata plus decompressed container
func ReadFrame(r io.Reader) (*MetaData, []byte, error) {
	meta, err := ReadMeta(r)
	if err != nil {
		return nil, nil, err
	}
	container, err := ReadContainer(r, meta.ContainerSize)
	if err != nil {
		return nil, nil, err
	}
	return meta, container, nil
}

// EncodeContainer serialises a typed container payload
func EncodeContainer(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode container: %w", err)
	}
	return payload, nil
}

// DecodeContainer parses a decompressed container payload into v
func DecodeContainer(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: decoding container: %v", ErrParse, err)
	}
	return nil
}
