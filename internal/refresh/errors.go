package refresh

import "errors"

var (
	// ErrRefreshFailed matches every [*RefreshError] via errors.Is.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrMissingAccessToken is the cause when a refresh succeeds without a token.
	ErrMissingAccessToken = errors.New("refresh response carried no access token")
)

// RefreshError is delivered to the triggering request and every request parked
// behind a refresh call that failed.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return ErrRefreshFailed.Error()
	}
	return ErrRefreshFailed.Error() + ": " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Is reports ErrRefreshFailed as a match.
func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}
