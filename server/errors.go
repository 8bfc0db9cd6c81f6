package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/t-kalinowski/positron/session"
	"github.com/t-kalinowski/positron/transport"
)

var (
	ErrMissingDocument = errors.New("document_id is required")
	ErrMissingRuntime  = errors.New("runtime.language is required")
	ErrMalformed       = errors.New("malformed payload")
)

// codeOf maps a registry error to the status code reported to clients.
func codeOf(err error) connect.Code {
	var (
		exhausted *transport.PortExhaustionError
		duplicate *session.DuplicateSessionError
	)

	switch {
	case errors.Is(err, ErrMissingDocument), errors.Is(err, ErrMissingRuntime), errors.Is(err, ErrMalformed):
		return connect.CodeInvalidArgument
	case errors.As(err, &exhausted):
		return connect.CodeResourceExhausted
	case errors.As(err, &duplicate):
		return connect.CodeAlreadyExists
	case errors.Is(err, session.ErrNoKernelCommand), errors.Is(err, session.ErrNoSockets):
		return connect.CodeFailedPrecondition
	case errors.Is(err, session.ErrRegistryClosed):
		return connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	default:
		return connect.CodeInternal
	}
}

func toConnectError(err error) error {
	return connect.NewError(codeOf(err), err)
}
