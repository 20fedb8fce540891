package gwioutil

import (
	"bytes"
	"io"
	"os"
	"testing"
	"testing/iotest"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string { return "i/o timeout" }
func (fakeTimeout) Timeout() bool { return true }

// timeoutAfter returns n bytes then times out
type timeoutAfter struct {
	n int
}

func (r *timeoutAfter) Read(p []byte) (int, error) {
	if r.n == 0 {
		return 0, fakeTimeout{}
	}
	p[0] = 'x'
	r.n--
	return 1, nil
}

func TestIsTimeoutError(t *testing.T) {
	assert.T(t, !IsTimeoutError(nil))
	assert.T(t, !IsTimeoutError(io.EOF))
	assert.T(t, IsTimeoutError(fakeTimeout{}))
	assert.T(t, IsTimeoutError(os.ErrDeadlineExceeded))
	assert.T(t, IsTimeoutError(errors.Wrap(fakeTimeout{}, "read")), "wrapped timeout should be detected")
	assert.T(t, IsTimeoutError(errors.WithMessage(os.ErrDeadlineExceeded, "read")))
}

func TestReadAll(t *testing.T) {
	src := []byte("0123456789")
	buf := make([]byte, 10)
	err := ReadAll(iotest.OneByteReader(bytes.NewReader(src)), buf)
	assert.Equal(t, nil, err)
	assert.Equal(t, src, buf)

	err = ReadAll(iotest.DataErrReader(bytes.NewReader(src)), make([]byte, 10))
	assert.Equal(t, nil, err)

	err = ReadAll(bytes.NewReader(src[:4]), make([]byte, 10))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	err = ReadAll(bytes.NewReader(nil), make([]byte, 4))
	assert.Equal(t, io.EOF, err)
}

func TestReadAllTimeout(t *testing.T) {
	err := ReadAll(&timeoutAfter{}, make([]byte, 4))
	assert.Equal(t, fakeTimeout{}, err)

	err = ReadAll(&timeoutAfter{n: 2}, make([]byte, 4))
	assert.T(t, IsTimeoutError(err), err)
	assert.Equal(t, "read 2/4 bytes: i/o timeout", err.Error())
}

type shortWriter struct {
	max int
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}

func TestWriteAll(t *testing.T) {
	var b bytes.Buffer
	assert.Equal(t, nil, WriteAll(&b, []byte("abc")))
	assert.Equal(t, "abc", b.String())

	w := &shortWriter{max: 2}
	assert.Equal(t, nil, WriteAll(w, []byte("abcde")))
	assert.Equal(t, "abcde", w.buf.String())

	assert.Equal(t, io.ErrShortWrite, WriteAll(&shortWriter{}, []byte("a")))
}
