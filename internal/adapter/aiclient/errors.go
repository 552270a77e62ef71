package aiclient

import (
	"context"
	"errors"
	"net"
)

// asDeadlineExceeded reports whether err represents a client-side timeout
// (context deadline or net.Error.Timeout), as opposed to a connection
// refused / DNS / other network failure.
func asDeadlineExceeded(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
