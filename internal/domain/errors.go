package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMarketNotFound    = errors.New("market not found")
	ErrInvalidInput      = errors.New("invalid market input")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrAlreadyConnecting = errors.New("stream connect already in progress")
	ErrStreamClosed      = errors.New("stream disconnected")
)
