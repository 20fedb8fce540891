package netutil

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/gwioutil"
)

const (
	// SIZE_FIELD_SIZE is the size of the length prefix of stream messages
	SIZE_FIELD_SIZE = 4
)

// ErrMessageTooLarge is returned when a declared message length exceeds the reader's maximum
var ErrMessageTooLarge = errors.New("message too large")

// WriteMessage writes payload to w prefixed by its u32 little endian length
func WriteMessage(w io.Writer, payload []byte) error {
	var hdr [SIZE_FIELD_SIZE]byte
	packetEndian.PutUint32(hdr[:], uint32(len(payload)))
	if err := gwioutil.WriteAll(w, hdr[:]); err != nil {
		return err
	}
	return gwioutil.WriteAll(w, payload)
}

// ReadMessage reads one length prefixed message into buf, growing it if needed
//
// A declared length over maxSize fails with ErrMessageTooLarge before the body is read.
// io.EOF is returned only when the stream ends between two messages.
func ReadMessage(r io.Reader, buf []byte, maxSize uint32) ([]byte, error) {
	var hdr [SIZE_FIELD_SIZE]byte
	if err := gwioutil.ReadAll(r, hdr[:]); err != nil {
		return nil, err
	}

	size := packetEndian.Uint32(hdr[:])
	if size > maxSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "declared length %d > %d", size, maxSize)
	}

	if uint32(cap(buf)) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	if err := gwioutil.ReadAll(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// IsMessageTooLarge checks if err is caused by ErrMessageTooLarge
func IsMessageTooLarge(err error) bool {
	return errors.Cause(err) == ErrMessageTooLarge
}
