package goAuthClient

import (
	"errors"

	"github.com/MrEthical07/goAuthClient/internal/refresh"
	"github.com/MrEthical07/goAuthClient/internal/transport"
)

// APIError is a failed exchange that produced a response. Message carries the
// server's envelope error reason verbatim.
type APIError = transport.APIError

// NetworkError is a failed exchange that never produced a response.
type NetworkError = transport.NetworkError

// RefreshError is returned to every request that waited on a refresh call
// that failed.
type RefreshError = refresh.RefreshError

// DefaultErrorMessage is the APIError message used when the server gave no reason.
const DefaultErrorMessage = transport.DefaultErrorMessage

var (
	// ErrRefreshFailed matches any [*RefreshError].
	ErrRefreshFailed = refresh.ErrRefreshFailed
	// ErrMissingAccessToken is the cause when a refresh reply carried no token.
	ErrMissingAccessToken = refresh.ErrMissingAccessToken
	// ErrClientNotReady is returned by methods called on a nil or closed Client.
	ErrClientNotReady = errors.New("client not ready")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrInvalidAuthResponse is returned when an auth payload fails validation.
	ErrInvalidAuthResponse = errors.New("invalid auth response")
	// ErrInvalidRequest is returned for requests without a method or path.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsStatus reports whether err is an [*APIError] with the given HTTP status
// and, when reason is non-empty, the given reason.
func IsStatus(err error, status int, reason string) bool {
	return transport.IsStatus(err, status, reason)
}
