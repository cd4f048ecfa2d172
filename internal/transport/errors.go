package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError marks a fault in talking to the exchange: dial failures,
// dropped connections, rate-limit rejections. These are recoverable by
// retrying; the payload itself was never suspect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is a recoverable exchange
// communication fault rather than a local protocol or state error.
func IsTransportError(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
