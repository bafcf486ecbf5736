package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrIndexerUnavailable = errors.New("indexer unavailable")
	ErrSchemaMismatch     = errors.New("schema mismatch")
	ErrNoEndpoints        = errors.New("no reachable rpc endpoint")
	ErrDecodeLog          = errors.New("cannot decode log")
	ErrLockHeld           = errors.New("lock already held")
)
