// Package packetproto implements the length-prefixed framing used to carry
// discrete protocol records over a byte stream. Each frame is a 16-bit
// little-endian payload length followed by the payload itself.
package packetproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the size of the frame header (the length prefix).
	HeaderLen = 2

	// MaxPayload is the largest payload a frame can carry.
	MaxPayload = 65535
)

// EncLen returns the encoded size of a frame carrying n payload bytes.
func EncLen(n int) int {
	return HeaderLen + n
}

var (
	ErrPayloadTooLarge = errors.New("packetproto: payload exceeds maximum frame size")
	ErrShortBuffer     = errors.New("packetproto: buffer too small for frame")
)

// PutHeader writes the frame header for a payload of n bytes at the start
// of b. The payload is expected to already occupy b[HeaderLen : HeaderLen+n].
func PutHeader(b []byte, n int) error {
	if n > MaxPayload {
		return ErrPayloadTooLarge
	}
	if len(b) < HeaderLen {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(b, uint16(n))
	return nil
}

// AppendFrame appends a complete frame carrying payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, ErrPayloadTooLarge
	}
	var hdr [HeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// Reader splits a byte stream back into frame payloads.
type Reader struct {
	r   io.Reader
	hdr [HeaderLen]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads the next frame payload into buf and returns its length.
// buf must be at least MaxPayload bytes to accept any conforming frame;
// a frame larger than buf is a stream error.
func (fr *Reader) ReadFrame(buf []byte) (int, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return 0, err
	}
	n := int(binary.LittleEndian.Uint16(fr.hdr[:]))
	if n > len(buf) {
		return 0, fmt.Errorf("packetproto: frame of %d bytes exceeds %d byte buffer", n, len(buf))
	}
	if _, err := io.ReadFull(fr.r, buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return n, nil
}
