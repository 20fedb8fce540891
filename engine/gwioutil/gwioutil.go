package gwioutil

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

type timeoutError interface {
	Timeout() bool
}

// IsTimeoutError checks if the error is caused by an expired deadline
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}

// WriteAll writes all bytes of data to w
//
// Deadlines are the caller's bound on the write: a timeout is returned like any other error,
// annotated with the number of bytes already written.
func WriteAll(w io.Writer, data []byte) error {
	total := len(data)
	for written := 0; written < total; {
		n, err := w.Write(data[written:])
		written += n
		if err != nil {
			if written == 0 {
				return err
			}
			return errors.WithMessagef(err, "wrote %d/%d bytes", written, total)
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// ReadAll reads from r until data is filled
//
// io.EOF is returned unwrapped only if nothing was read; a stream ending in the middle
// returns io.ErrUnexpectedEOF. Other errors, timeouts included, carry the progress made.
func ReadAll(r io.Reader, data []byte) error {
	total := len(data)
	read := 0
	for read < total {
		n, err := r.Read(data[read:])
		read += n
		if err == nil {
			continue
		}
		if read == total {
			return nil
		}

		if err == io.EOF {
			if read == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		if read == 0 {
			return err
		}
		return errors.WithMessagef(err, "read %d/%d bytes", read, total)
	}
	return nil
}
