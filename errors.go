package epochcache

import "errors"

// Sentinel errors returned by the epochcache package.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, epochcache.ErrTransform) {
//	    // one or more chunks failed their offline transform
//	}
var (
	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: overlap >= chunk size, negative overlap, a channel
	// index outside the trial, a ragged trial, mismatched trials/metadata
	// lengths, a missing cache path, or a dataset index out of range.
	//
	// This is a programming error and is reported before any work begins.
	ErrInvalidInput = errors.New("epochcache: invalid input")

	// ErrTransform indicates an offline, online, or label transform
	// failed. During population the affected chunk is skipped and the
	// error carries its trial index and window offsets; records already
	// written stay valid and a later populate run retries the chunk.
	ErrTransform = errors.New("epochcache: transform failed")

	// ErrNotPopulated indicates [Open] was called on a cache path without
	// a valid completion marker.
	//
	// Recovery: run [Populate] (or [New]) first.
	ErrNotPopulated = errors.New("epochcache: cache not populated")

	// ErrClosed indicates the [Dataset] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("epochcache: closed")
)
