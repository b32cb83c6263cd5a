package api

import "errors"

var (
	ErrNotFound    = errors.New("content not found")
	ErrGone        = errors.New("content no longer available")
	ErrRateLimited = errors.New("rate limited by backend")
	ErrAuthFailed  = errors.New("session rejected by backend")
)
