package redis

import "errors"

var (
	ErrNoURL     = errors.New("redis: connection URL is required")
	ErrParseURL  = errors.New("redis: invalid connection URL")
	ErrConnect   = errors.New("redis: could not connect")
	ErrUnhealthy = errors.New("redis: client is unhealthy")
)
