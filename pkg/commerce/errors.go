package commerce

import (
	"errors"
	"fmt"
)

// RejectionError is a definitive answer from the backend: no order exists.
type RejectionError struct {
	Reason string
	Code   string
	Field  string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("order rejected (%s): %s", e.Code, e.Reason)
	}
	return "order rejected: " + e.Reason
}

// TransportError is any failure without a definitive backend answer. Sent
// reports whether the request body left this process; when it did the order
// may or may not exist.
type TransportError struct {
	Err  error
	Sent bool
}

func (e *TransportError) Error() string {
	if e.Sent {
		return fmt.Sprintf("order request outcome unknown: %v", e.Err)
	}
	return fmt.Sprintf("order request not sent: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsRejection extracts a backend rejection from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsNotSent reports whether err is known to have happened before the backend
// could have seen the request. Only these failures are safe to retry.
func IsNotSent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && !te.Sent
}

// IsAmbiguous reports whether the backend may have created the order.
func IsAmbiguous(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Sent
}
