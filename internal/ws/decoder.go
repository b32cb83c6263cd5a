package ws

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Compression selects how binary frames are decoded.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionZstd  Compression = "zstd"
	CompressionFlate Compression = "flate"
)

// FrameDecoder turns raw socket frames into JSON bytes. Text frames pass
// through unchanged.
type FrameDecoder struct {
	mode        Compression
	zstdDecoder *zstd.Decoder
}

// NewFrameDecoder creates a decoder for the given compression mode.
func NewFrameDecoder(mode Compression) (*FrameDecoder, error) {
	d := &FrameDecoder{mode: mode}
	switch mode {
	case "", CompressionNone:
		d.mode = CompressionNone
	case CompressionZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		d.zstdDecoder = dec
	case CompressionFlate:
	default:
		return nil, fmt.Errorf("unsupported compression %q", mode)
	}
	return d, nil
}

// Decode returns the JSON payload of one frame.
func (d *FrameDecoder) Decode(messageType int, payload []byte) ([]byte, error) {
	if messageType != websocket.BinaryMessage {
		return payload, nil
	}

	switch d.mode {
	case CompressionZstd:
		out, err := d.zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressionFlate:
		r := flate.NewReader(bytes.NewReader(payload))
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxFrameSize))
		if err != nil {
			return nil, fmt.Errorf("flate decompress: %w", err)
		}
		return out, nil
	}
	return payload, nil
}

// Close releases decoder resources.
func (d *FrameDecoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}
