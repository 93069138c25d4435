package db

import "errors"

var (
	ErrNoConnectionString = errors.New("db: connection string is required")
	ErrParseConfig        = errors.New("db: invalid pool configuration")
	ErrConnect            = errors.New("db: could not connect")
	ErrUnhealthy          = errors.New("db: pool is unhealthy")
	ErrMigrate            = errors.New("db: migration failed")
	ErrBeginTx            = errors.New("db: could not begin transaction")
	ErrCommitTx           = errors.New("db: could not commit transaction")
)
