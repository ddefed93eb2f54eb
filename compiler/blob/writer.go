// Package blob owns the multi-permutation shader container: the framing
// written around each compiled permutation, the inverse reader, and the
// assembler that packs permutation files into blob outputs.
package blob

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Signature identifies a shader blob file.
var Signature = []byte{'N', 'V', 'S', 'P'}

// WriteCallback is the byte sink the framing is emitted through, so the
// same writer serves binary files and generated headers alike.
type WriteCallback func(data []byte) error

// entryHeader precedes every permutation: both sizes, little-endian.
const entryHeaderSize = 8

// WriteFileHeader emits the blob signature. Called once per blob file,
// before any permutation.
func WriteFileHeader(cb WriteCallback) error {
	return cb(Signature)
}

// WritePermutation emits one framed permutation entry: the entry header,
// the combined-defines string, then the compiled bytecode.
func WritePermutation(cb WriteCallback, permutation string, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("permutation data too large: %d bytes", len(data))
	}

	header := make([]byte, entryHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(len(permutation)))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(data)))

	if err := cb(header); err != nil {
		return err
	}
	if err := cb([]byte(permutation)); err != nil {
		return err
	}
	return cb(data)
}
