// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// maxFrameSize bounds both the encoded and the decompressed size of a
// single frame's data.
const maxFrameSize = 64 << 20

// errFrameTooLarge is returned by payload for frames whose data exceeds
// maxFrameSize.
var errFrameTooLarge = errors.New("transport: frame exceeds maximum size")

// frame is one tagged payload on the data channel, CBOR-encoded.
type frame struct {
	Tag        string `cbor:"tag"`
	Data       []byte `cbor:"data,omitempty"`
	Compressed bool   `cbor:"compressed,omitempty"`
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder
// and one decoder serve every transport in the process.
var (
	frameEncoder *zstd.Encoder
	frameDecoder *zstd.Decoder
)

func init() {
	var err error
	frameEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("transport: creating zstd encoder: " + err.Error())
	}
	frameDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
	if err != nil {
		panic("transport: creating zstd decoder: " + err.Error())
	}
}

// newFrame builds the frame for a payload, compressing data when it is
// larger than threshold. A threshold <= 0 disables compression.
// Compression is skipped when it does not shrink the payload.
func newFrame(tag string, data []byte, threshold int) frame {
	if threshold > 0 && len(data) > threshold {
		compressed := frameEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(compressed) < len(data) {
			return frame{Tag: tag, Data: compressed, Compressed: true}
		}
	}
	return frame{Tag: tag, Data: data}
}

// payload returns the frame's data, decompressing if needed.
func (f frame) payload() ([]byte, error) {
	if len(f.Data) > maxFrameSize {
		return nil, fmt.Errorf("%w: %q frame carries %d bytes", errFrameTooLarge, f.Tag, len(f.Data))
	}
	if !f.Compressed {
		if f.Data == nil {
			return []byte{}, nil
		}
		return f.Data, nil
	}
	data, err := frameDecoder.DecodeAll(f.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing %q frame: %w", f.Tag, err)
	}
	return data, nil
}
