// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// cellSize is the number of bytes one UTF-16 code unit occupies in the
// binary representation.
const cellSize = 2

// ErrMalformedPayload is returned when a value is neither a string nor
// a []byte, or when a binary value cannot be split into whole cells.
var ErrMalformedPayload = errors.New("payload: malformed payload")

// ToBinary normalizes value to its binary representation. A []byte is
// returned as-is (the caller's slice, not a copy). A string is encoded
// as one 2-byte little-endian cell per UTF-16 code unit.
func ToBinary(value any) ([]byte, error) {
	switch typed := value.(type) {
	case []byte:
		return typed, nil
	case string:
		return encodeText(typed), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedPayload, value)
	}
}

// ToText normalizes value to its text representation. A string is
// returned as-is. A []byte is decoded as a sequence of 2-byte cells; its
// length must be a multiple of two.
func ToText(value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case []byte:
		return decodeText(typed)
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrMalformedPayload, value)
	}
}

func encodeText(text string) []byte {
	units := utf16.Encode([]rune(text))
	buffer := make([]byte, len(units)*cellSize)
	for index, unit := range units {
		binary.LittleEndian.PutUint16(buffer[index*cellSize:], unit)
	}
	return buffer
}

func decodeText(data []byte) (string, error) {
	if len(data)%cellSize != 0 {
		return "", fmt.Errorf("%w: binary length %d is not a multiple of %d", ErrMalformedPayload, len(data), cellSize)
	}
	units := make([]uint16, len(data)/cellSize)
	for index := range units {
		units[index] = binary.LittleEndian.Uint16(data[index*cellSize:])
	}
	return string(utf16.Decode(units)), nil
}
