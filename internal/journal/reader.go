package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

var ErrChecksumMismatch = errors.New("journal checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes journal records sequentially.
type Reader struct {
	r       *bufio.Reader
	opts    ReaderOptions
	envBuf  []byte
	payload []byte
}

// NewReader wraps an io.Reader with journal decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:      bufio.NewReader(r),
		opts:   opts,
		envBuf: make([]byte, envelopeSize),
	}
}

// Next returns the next record envelope and payload.
// The payload is only valid until the next call to Next.
func (r *Reader) Next() (Envelope, []byte, error) {
	var env Envelope

	n, err := io.ReadFull(r.r, r.envBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return env, nil, io.EOF
		}
		return env, nil, err
	}

	env, payloadLen, err := decodeEnvelope(r.envBuf)
	if err != nil {
		return env, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return env, nil, ErrPayloadTooLarge
	}
	if uint64(payloadLen) > maxPayloadLen {
		return env, nil, ErrPayloadTooLarge
	}

	if payloadLen > 0 {
		if cap(r.payload) < int(payloadLen) {
			r.payload = make([]byte, payloadLen)
		}
		r.payload = r.payload[:payloadLen]
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return env, nil, err
		}
	} else {
		r.payload = r.payload[:0]
	}

	var checksumBuf [checksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return env, nil, err
	}

	if !r.opts.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		sum := checksum(r.envBuf, r.payload)
		if sum != expected {
			return env, nil, ErrChecksumMismatch
		}
	}

	return env, r.payload, nil
}
