// Package hostabi adapts the text normalizer to hosts that exchange
// NUL-terminated UTF-16LE strings and free returned buffers explicitly.
package hostabi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/fankserver/clipboard-dialogue-mcp/pkg/textnorm"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// PluginVersion is the host interface version this package implements
const PluginVersion = 2

var (
	// ErrInvalidEncoding is returned for input that is not well-formed UTF-16LE
	ErrInvalidEncoding = errors.New("invalid UTF-16LE input")

	// ErrUnknownHandle is returned when releasing a buffer that is not live
	ErrUnknownHandle = errors.New("unknown buffer handle")
)

var (
	// A leading BOM is consumed on input; output never carries one.
	utf16Decoding encoding.Encoding = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	utf16Encoding encoding.Encoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Buffer is a normalized string owned by the Host until released
type Buffer struct {
	Handle string
	// Data is NUL-terminated UTF-16LE
	Data []byte
}

// Host serves Modify calls and tracks the buffers handed out
type Host struct {
	transformer textnorm.Transformer

	mu      sync.Mutex
	buffers map[string][]byte
}

// NewHost creates a host backed by trans
func NewHost(trans textnorm.Transformer) *Host {
	return &Host{
		transformer: trans,
		buffers:     make(map[string][]byte),
	}
}

// Modify normalizes in. ok is false when the host should keep its own text.
func (h *Host) Modify(in []byte) (Buffer, bool, error) {
	text, err := DecodeString(in)
	if err != nil {
		return Buffer{}, false, err
	}

	res := h.transformer.Normalize(text)
	if !res.OK() {
		logrus.WithField("reason", res.Outcome.String()).Debug("Host text left unchanged")
		return Buffer{}, false, nil
	}

	out, err := EncodeString(res.Text)
	if err != nil {
		return Buffer{}, false, err
	}

	buf := Buffer{Handle: uuid.New().String(), Data: out}

	h.mu.Lock()
	h.buffers[buf.Handle] = out
	h.mu.Unlock()

	return buf, true, nil
}

// Release frees a buffer returned by Modify
func (h *Host) Release(handle string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.buffers[handle]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	delete(h.buffers, handle)
	return nil
}

// Live returns the number of buffers not yet released
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffers)
}

// terminate cuts in at the first NUL code unit
func terminate(in []byte) []byte {
	for i := 0; i+1 < len(in); i += 2 {
		if in[i] == 0 && in[i+1] == 0 {
			return in[:i]
		}
	}
	return in
}

// validate rejects odd lengths and unpaired surrogates. The decoder would
// silently replace them with U+FFFD.
func validate(in []byte) error {
	if len(in)%2 != 0 {
		return fmt.Errorf("%w: odd length %d", ErrInvalidEncoding, len(in))
	}
	for i := 0; i < len(in); i += 2 {
		u := binary.LittleEndian.Uint16(in[i:])
		switch {
		case u >= 0xD800 && u < 0xDC00:
			if i+4 > len(in) {
				return fmt.Errorf("%w: unpaired high surrogate at byte %d", ErrInvalidEncoding, i)
			}
			next := binary.LittleEndian.Uint16(in[i+2:])
			if next < 0xDC00 || next >= 0xE000 {
				return fmt.Errorf("%w: unpaired high surrogate at byte %d", ErrInvalidEncoding, i)
			}
			i += 2
		case u >= 0xDC00 && u < 0xE000:
			return fmt.Errorf("%w: unpaired low surrogate at byte %d", ErrInvalidEncoding, i)
		}
	}
	return nil
}

// EncodeString returns the NUL-terminated UTF-16LE form of s
func EncodeString(s string) ([]byte, error) {
	out, err := utf16Encoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding string: %w", err)
	}
	return append(out, 0, 0), nil
}

// DecodeString decodes NUL-terminated or bare UTF-16LE
func DecodeString(b []byte) (string, error) {
	b = terminate(b)
	if err := validate(b); err != nil {
		return "", err
	}
	out, err := utf16Decoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	return string(out), nil
}
