// Package preload implements the preloader: a Unix-domain-socket server
// that keeps selected processors' expensive warm state (loaded models, open
// subprocess handles) resident between jobs, per §4.F.
//
// The wire protocol is length-prefixed JSON: a 4-byte big-endian frame
// length followed by that many bytes of JSON payload, directly translated
// from the original implementation's `struct.pack(">I", len(data))` framing
// (sparv/core/preload.py) — the one place in this engine where hand-rolling
// on the standard library is the deliberately correct choice, since no
// framing library appears anywhere in the example corpus and a 4-byte
// length prefix is too small a surface to justify a dependency.
package preload

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const maxFrameSize = 64 << 20 // 64MiB: guards against a corrupt length prefix

// WriteFrame writes v as a length-prefixed JSON frame to w.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("preload: encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("preload: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("preload: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r into v. It returns
// io.EOF if the connection closed cleanly before any bytes were read.
func ReadFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return fmt.Errorf("preload: frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("preload: read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("preload: decode frame: %w", err)
	}
	return nil
}
