package content

import "errors"

var (
	// ErrUserSessionNotFound means no session token is available yet.
	ErrUserSessionNotFound          = errors.New("user session not found")
	ErrSubscriptionNotFound         = errors.New("subscription not found")
	ErrOnSubscribe                  = errors.New("subscribe request failed")
	ErrResourceUnavailableOrDeleted = errors.New("resource unavailable or deleted")
	ErrResourceNotFound             = errors.New("resource not found")
	ErrIncompleteSportData          = errors.New("incomplete sport data")
	ErrNotSupportedForProvider      = errors.New("not supported for provider")
)
