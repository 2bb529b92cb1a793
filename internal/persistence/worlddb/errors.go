package worlddb

import "errors"

var (
	// ErrNotFound: the chunk or key does not exist.
	ErrNotFound = errors.New("worlddb: not found")
	// ErrCorrupt: a stored blob failed to decode or referenced unknown data.
	ErrCorrupt = errors.New("worlddb: corrupt data")
	// ErrStoreUnavailable: the store is closed or closing.
	ErrStoreUnavailable = errors.New("worlddb: store unavailable")
	// ErrTransaction: a multi-statement write failed and was rolled back.
	ErrTransaction = errors.New("worlddb: transaction failed")
	// ErrUnknownPlayer: the player id was never registered.
	ErrUnknownPlayer = errors.New("worlddb: unknown player")
)
