package trialstore

import "errors"

// Sentinel errors returned by trialstore operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, trialstore.ErrFull) {
//	    // reopen with a larger MaxSize
//	}
var (
	// ErrCorrupt indicates the record log is damaged (bad frame bounds or
	// CRC mismatch on a fully written frame).
	//
	// Recovery: delete the store directory and repopulate.
	ErrCorrupt = errors.New("trialstore: corrupt")

	// ErrIncompatible indicates the log header magic or format version is
	// not recognized.
	//
	// Recovery: delete the store directory and repopulate.
	ErrIncompatible = errors.New("trialstore: incompatible")

	// ErrBusy indicates another writer holds the store lock and the
	// acquisition timeout expired.
	//
	// Recovery: retry after the competing populate run finishes.
	ErrBusy = errors.New("trialstore: busy")

	// ErrFull indicates an append would grow the log beyond the configured
	// maximum size.
	//
	// Recovery: close the store and reopen with a larger MaxSize.
	ErrFull = errors.New("trialstore: full")

	// ErrKeyExists indicates a Put for a key that is already stored.
	// Records are write-once.
	ErrKeyExists = errors.New("trialstore: key exists")

	// ErrNotFound indicates a read for a key that is not stored.
	ErrNotFound = errors.New("trialstore: not found")

	// ErrClosed indicates the [Store] or [Writer] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("trialstore: closed")
)
