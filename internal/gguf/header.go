// Package gguf reads just enough of a GGUF file to tell whether a quantizer
// really produced one.
package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// GGUF magic number: "GGUF" in little-endian
const ggufMagic = 0x46554747

// ErrInvalidMagic is returned for files that do not start with "GGUF"
var ErrInvalidMagic = errors.New("not a GGUF file")

// Header is the fixed-size prefix of every GGUF file
type Header struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// ReadHeader opens path and parses its header
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GGUF file: %w", err)
	}
	defer f.Close()

	h, err := ParseHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ParseHeader reads the GGUF file header
func ParseHeader(r io.Reader) (*Header, error) {
	h := &Header{}

	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if h.Magic != ggufMagic {
		return nil, fmt.Errorf("%w: expected magic 0x%x, got 0x%x", ErrInvalidMagic, ggufMagic, h.Magic)
	}

	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if h.Version < 2 || h.Version > 3 {
		return nil, fmt.Errorf("unsupported GGUF version: %d (supported: 2-3)", h.Version)
	}

	if err := binary.Read(r, binary.LittleEndian, &h.TensorCount); err != nil {
		return nil, fmt.Errorf("failed to read tensor count: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &h.KVCount); err != nil {
		return nil, fmt.Errorf("failed to read KV count: %w", err)
	}

	return h, nil
}

// WriteHeader writes a header with the given counts. Used to build fixtures.
func WriteHeader(w io.Writer, version uint32, tensors, kvs uint64) error {
	for _, v := range []interface{}{uint32(ggufMagic), version, tensors, kvs} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}
