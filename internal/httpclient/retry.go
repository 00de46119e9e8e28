package httpclient

import (
	"context"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/teranos/carbonfill/errors"
)

var networkErrorStrings = []string{
	"connection reset by peer",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"i/o timeout",
	"unexpected eof",
}

// IsRetryable reports whether err is a network failure worth retrying.
// Context cancellation and HTTP status errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range networkErrorStrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// Backoff waits attempt*base or until ctx is done.
func Backoff(ctx context.Context, attempt int, base time.Duration) error {
	if base <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(attempt) * base)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
