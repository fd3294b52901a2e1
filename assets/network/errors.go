package network

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an upload failure.
type Kind string

// Upload failure kinds.
const (
	Timeout         Kind = "timeout"
	ClientRejected  Kind = "client_rejected"
	ServerError     Kind = "server_error"
	NetworkError    Kind = "network_error"
	InvalidResponse Kind = "invalid_response"
	Canceled        Kind = "canceled"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case Timeout, ServerError, NetworkError:
		return true
	}
	return false
}

// UploadFailedError is returned once a file could not be uploaded, either
// because attempts were exhausted or the failure was terminal.
type UploadFailedError struct {
	FileName   string
	Kind       Kind
	Attempts   int
	StatusCode int
	Err        error
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("upload %s failed: %s", e.FileName, e.Err)
}

func (e *UploadFailedError) Unwrap() error {
	return e.Err
}

// ErrUploadFailed matches every *UploadFailedError with errors.Is.
var ErrUploadFailed = errors.New("upload failed")

// Is ...
func (e *UploadFailedError) Is(target error) bool {
	return target == ErrUploadFailed
}

func classifyError(ctx context.Context, err error) Kind {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Timeout
		}
		return Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return NetworkError
}

func classifyStatus(statusCode int) Kind {
	if statusCode >= 400 && statusCode < 500 {
		return ClientRejected
	}
	return ServerError
}
