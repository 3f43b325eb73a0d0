package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"
)

// Failure names why an upstream call produced no response. Values are used
// as metric labels.
type Failure string

const (
	FailureTimeout     Failure = "timeout"
	FailureCanceled    Failure = "canceled"
	FailureDNS         Failure = "dns"
	FailureConnect     Failure = "connect"
	FailureRequestBody Failure = "request_body"
	FailureOther       Failure = "other"
)

// RequestBodyError reports that the inbound body failed while it was being
// streamed upstream, e.g. because it exceeded the server's body limit or the
// browser went away mid-upload. Err is the reader's own error.
type RequestBodyError struct {
	Err error
}

func (e *RequestBodyError) Error() string {
	return "read request body: " + e.Err.Error()
}

func (e *RequestBodyError) Unwrap() error {
	return e.Err
}

// Classify returns the Failure for an error returned by Send.
func Classify(err error) Failure {
	var bodyErr *RequestBodyError
	if errors.As(err, &bodyErr) {
		return FailureRequestBody
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return FailureTimeout
		}
		return FailureConnect
	}

	return FailureOther
}

// bodyWatcher remembers the first non-EOF error of the body it wraps. The
// transport reads the body on its own goroutine, hence the lock.
type bodyWatcher struct {
	r io.Reader

	mu  sync.Mutex
	err error
}

func (b *bodyWatcher) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	return n, err
}

// failure returns the recorded read error; nil-safe for bodiless requests.
func (b *bodyWatcher) failure() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
