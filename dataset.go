package epochcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/epochcache/internal/trialstore"
)

// Dataset is the read view over a populated cache: integer-indexed random
// access to (signal, labels) samples with the online transforms applied.
//
// A Dataset must be obtained via [New] or [Open]; the zero value is not
// usable. Read methods are safe for concurrent use by multiple
// goroutines until Close.
type Dataset struct {
	store *trialstore.Store
	opts  Options
	count int
}

// New populates the cache at opts.Path from the given trials (a no-op
// when the cache is already complete) and opens the dataset view.
//
// This is the one-call constructor: expensive preprocessing runs once
// per cache path, and subsequent constructions against the same path
// only read.
func New(ctx context.Context, trials []Trial, metadata []Labels, opts Options) (*Dataset, error) {
	_, err := Populate(ctx, trials, metadata, opts)
	if err != nil {
		return nil, err
	}

	return Open(opts)
}

// Open opens an existing, fully populated cache without touching the
// source trials.
//
// Possible errors: [ErrInvalidInput] (missing path), [ErrNotPopulated]
// (no valid completion marker), [trialstore.ErrCorrupt],
// [trialstore.ErrIncompatible].
func Open(opts Options) (*Dataset, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: cache path is required", ErrInvalidInput)
	}

	store, err := trialstore.Open(opts.Path, storeOptions(opts))
	if err != nil {
		return nil, err
	}

	count, complete := store.Complete()
	if !complete {
		_ = store.Close()

		return nil, fmt.Errorf("%w: %s", ErrNotPopulated, opts.Path)
	}

	return &Dataset{store: store, opts: opts, count: count}, nil
}

// Len returns the number of samples in the dataset.
func (d *Dataset) Len() int {
	return d.count
}

// Get returns sample i: the cached signal after the online transform and
// the label record after the label transform.
//
// Indexing outside [0, Len()) is a programming error and fails
// immediately with [ErrInvalidInput].
func (d *Dataset) Get(i int) (Signal, Labels, error) {
	if i < 0 || i >= d.count {
		return nil, nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidInput, i, d.count)
	}

	rawSignal, rawLabels, err := d.store.At(i)
	if err != nil {
		if errors.Is(err, trialstore.ErrClosed) {
			return nil, nil, ErrClosed
		}

		return nil, nil, err
	}

	signal := Signal(rawSignal)

	if d.opts.OnlineTransform != nil {
		transformed, transformErr := d.opts.OnlineTransform.Apply(signal)
		if transformErr != nil {
			return nil, nil, fmt.Errorf("%w: online transform, sample %d: %w", ErrTransform, i, transformErr)
		}

		signal = transformed
	}

	labels := Labels(rawLabels)

	if d.opts.LabelTransform != nil {
		transformed, transformErr := d.opts.LabelTransform.ApplyLabels(labels)
		if transformErr != nil {
			return nil, nil, fmt.Errorf("%w: label transform, sample %d: %w", ErrTransform, i, transformErr)
		}

		labels = transformed
	}

	return signal, labels, nil
}

// Key returns the clip identifier of sample i.
func (d *Dataset) Key(i int) (string, error) {
	key, err := d.store.Key(i)
	if err != nil {
		if errors.Is(err, trialstore.ErrClosed) {
			return "", ErrClosed
		}

		return "", fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidInput, i, d.count)
	}

	return key, nil
}

// Close releases the underlying store. After Close, reads fail.
// Close is idempotent.
func (d *Dataset) Close() error {
	return d.store.Close()
}
