package gwutils

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

// PanicError is the error a recovered panic is converted to
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// CatchPanic runs f and converts a panic into a *PanicError; the stack is logged
func CatchPanic(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			gwlog.TraceError("%p panic: %v", f, r)
			err = &PanicError{Value: r}
		}
	}()

	return f()
}

// RunPanicless calls f and reports whether it panicked
func RunPanicless(f func()) (panicked bool) {
	err := CatchPanic(func() error {
		f()
		return nil
	})
	return err != nil
}

// RepeatUntilPanicless runs f again every time it panics, until it returns normally or ctx is done
func RepeatUntilPanicless(ctx context.Context, f func()) {
	for ctx.Err() == nil && RunPanicless(f) {
	}
}

// IsPanic checks if err was converted from a panic by CatchPanic
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
