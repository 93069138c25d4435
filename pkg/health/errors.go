package health

import "errors"

var (
	ErrCheckFailed  = errors.New("health: check failed")
	ErrCheckTimeout = errors.New("health: check timeout")
	ErrNilCheck     = errors.New("health: nil check")
)
