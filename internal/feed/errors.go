package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"printfleet/dashboard-server/internal/apperr"
)

// Wire-level error codes carried by feed errors.
const (
	CodePermissionDenied = "permission-denied"
	CodeUnavailable      = "unavailable"
	CodeInvalidArgument  = "invalid-argument"
	CodeInternal         = "internal"
)

// Error is a terminal change-feed failure reported by a backend.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf builds a feed error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Classify maps a feed failure onto the store error taxonomy and the message operators see.
func Classify(err error, collection string) *apperr.Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case CodePermissionDenied:
			return permissionDenied(collection, err)
		case CodeUnavailable:
			return networkFailure(err)
		}
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return networkFailure(err)
	}

	msg := strings.TrimSpace(err.Error())
	if fe != nil && fe.Message != "" {
		msg = fe.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("failed to load %s", collection)
	}
	return apperr.Wrap(apperr.CodeSubscription, msg, err)
}

func permissionDenied(collection string, cause error) *apperr.Error {
	return apperr.Wrap(apperr.CodePermissionDenied,
		fmt.Sprintf("permission denied reading %q: check the access policy and API key for this collection", collection),
		cause)
}

func networkFailure(cause error) *apperr.Error {
	return apperr.Wrap(apperr.CodeNetworkFailure,
		fmt.Sprintf("network failure: %v; refresh to retry", cause),
		cause)
}
