package epochcache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/calvinalkan/epochcache/internal/trialstore"
)

// trialPlan is the pre-computed chunking plan for one trial: its windows
// and the first clip identifier of its range.
//
// Identifier ranges are assigned per trial before any work is dispatched
// (arena+index), so clip ids depend only on the input order and the
// chunking parameters, never on the worker count. Resumed runs therefore
// regenerate the exact identifiers of the interrupted run and skip the
// ones already stored.
type trialPlan struct {
	windows []Window
	idBase  int
}

// Populate fills the cache at opts.Path from the given trials.
//
// Trials and metadata are parallel slices: metadata[i] labels trials[i].
// Each trial is segmented per opts, each chunk runs through
// opts.OfflineTransform, and the results are written to the store under
// pre-assigned clip identifiers. Returns the total record count.
//
// Populate is idempotent: a store already marked complete is returned
// as-is, and a partially populated store (earlier crash or failed run) is
// resumed by writing only the records that are missing.
//
// A failed offline transform skips that chunk only; the run finishes the
// remaining work and then reports every skipped chunk in one joined
// error (wrapping [ErrTransform]) without marking the store complete.
// Store failures abort the run immediately; records already written stay
// durable for the next attempt.
//
// Possible errors: [ErrInvalidInput], [ErrTransform],
// [trialstore.ErrBusy], [trialstore.ErrFull], [trialstore.ErrCorrupt],
// or the context's error.
func Populate(ctx context.Context, trials []Trial, metadata []Labels, opts Options) (int, error) {
	if opts.Path == "" {
		return 0, fmt.Errorf("%w: cache path is required", ErrInvalidInput)
	}

	if len(trials) != len(metadata) {
		return 0, fmt.Errorf("%w: %d trials but %d metadata records", ErrInvalidInput, len(trials), len(metadata))
	}

	if opts.Workers < 0 {
		return 0, fmt.Errorf("%w: negative worker count %d", ErrInvalidInput, opts.Workers)
	}

	// Fail fast: validate every trial against the chunking parameters
	// before touching the store.
	plans, planErr := planTrials(trials, opts)
	if planErr != nil {
		return 0, planErr
	}

	writer, openErr := trialstore.OpenWriter(opts.Path, storeOptions(opts))
	if openErr != nil {
		return 0, openErr
	}

	defer func() { _ = writer.Close() }()

	if count, done := writer.Complete(); done {
		if opts.Verbose {
			log.Printf("epochcache: %s already populated (%d records)", opts.Path, count)
		}

		return count, nil
	}

	existing := writer.ExistingKeys()

	var runErr error

	if opts.Workers == 0 {
		runErr = populateSerial(ctx, trials, metadata, plans, opts, writer, existing)
	} else {
		runErr = populateParallel(ctx, trials, metadata, plans, opts, writer, existing)
	}

	if runErr != nil {
		return writer.Len(), runErr
	}

	markErr := writer.MarkComplete()
	if markErr != nil {
		return writer.Len(), markErr
	}

	if opts.Verbose {
		log.Printf("epochcache: populated %s with %d records", opts.Path, writer.Len())
	}

	return writer.Len(), nil
}

// planTrials validates every trial against the chunking parameters and
// assigns clip identifier ranges.
func planTrials(trials []Trial, opts Options) ([]trialPlan, error) {
	plans := make([]trialPlan, len(trials))

	idBase := 0

	for i, trial := range trials {
		sampleCount, err := trial.sampleCount()
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}

		windows, windowsErr := Windows(sampleCount, opts.ChunkSize, opts.Overlap)
		if windowsErr != nil {
			return nil, fmt.Errorf("trial %d: %w", i, windowsErr)
		}

		_, channelsErr := resolveChannels(opts.Channels, trial.channels())
		if channelsErr != nil {
			return nil, fmt.Errorf("trial %d: %w", i, channelsErr)
		}

		plans[i] = trialPlan{windows: windows, idBase: idBase}
		idBase += len(windows)
	}

	return plans, nil
}

// populateSerial processes every trial on the caller's goroutine, in
// input order. Record insertion order is deterministic.
func populateSerial(
	ctx context.Context,
	trials []Trial,
	metadata []Labels,
	plans []trialPlan,
	opts Options,
	writer *trialstore.Writer,
	existing map[string]struct{},
) error {
	var transformErrs []error

	for i := range trials {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(append(transformErrs, ctxErr)...)
		}

		seq, seqErr := Chunks(trials[i], metadata[i], chunkParams(opts))
		if seqErr != nil {
			// planTrials already validated; reaching this is a bug.
			return fmt.Errorf("trial %d: %w", i, seqErr)
		}

		written := 0
		window := 0

		var fatal error

		for chunk := range seq {
			key := clipID(plans[i].idBase + window)
			window++

			if _, skip := existing[key]; skip {
				continue
			}

			signal, transformErr := applyOffline(opts.OfflineTransform, chunk.Signal)
			if transformErr != nil {
				transformErrs = append(transformErrs, chunkError(i, chunk.Window, transformErr))

				continue
			}

			putErr := writer.Put(key, signal, chunk.Labels)
			if putErr != nil {
				fatal = fmt.Errorf("trial %d window [%d,%d): %w", i, chunk.Window.Start, chunk.Window.End, putErr)

				break
			}

			written++
		}

		if fatal != nil {
			return errors.Join(append(transformErrs, fatal)...)
		}

		if opts.Verbose {
			log.Printf("epochcache: trial %d/%d: %d of %d chunks written", i+1, len(trials), written, len(plans[i].windows))
		}
	}

	if len(transformErrs) > 0 {
		return errors.Join(transformErrs...)
	}

	return nil
}

// chunkResult is what a worker hands to the writer goroutine: either a
// finished record or a per-chunk transform error.
type chunkResult struct {
	key    string
	signal Signal
	labels Labels
	trial  int
	window Window
	err    error
}

// populateParallel fans trial processing out over opts.Workers goroutines.
//
// The coordinator (caller goroutine) is the sole producer of work units,
// one per trial, on a bounded channel. Workers chunk and transform
// independently, then funnel finished records through a bounded result
// channel back to the coordinator, which owns the only store writer
// handle, so at most one in-flight writer ever touches the store. The first
// store failure cancels the pool; transform failures only skip their
// chunk.
func populateParallel(
	ctx context.Context,
	trials []Trial,
	metadata []Labels,
	plans []trialPlan,
	opts Options,
	writer *trialstore.Writer,
	existing map[string]struct{},
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan int, opts.Workers)
	resultCh := make(chan chunkResult, opts.Workers*2)

	var wg sync.WaitGroup

	for range opts.Workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range workCh {
				processTrial(ctx, i, trials[i], metadata[i], plans[i], opts, existing, resultCh)
			}
		}()
	}

	// Feed trial indexes; stop early if the pool is cancelled.
	go func() {
		defer close(workCh)

		for i := range trials {
			select {
			case workCh <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var transformErrs []error

	var fatal error

	for result := range resultCh {
		if result.err != nil {
			transformErrs = append(transformErrs, result.err)

			continue
		}

		if fatal != nil {
			continue // draining
		}

		putErr := writer.Put(result.key, result.signal, result.labels)
		if putErr != nil {
			fatal = fmt.Errorf("trial %d window [%d,%d): %w", result.trial, result.window.Start, result.window.End, putErr)

			cancel()
		}
	}

	if fatal != nil {
		return errors.Join(append(transformErrs, fatal)...)
	}

	// With no fatal store error, a cancelled context can only come from
	// the caller.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(append(transformErrs, ctxErr)...)
	}

	if len(transformErrs) > 0 {
		return errors.Join(transformErrs...)
	}

	return nil
}

// processTrial chunks and transforms one trial, sending results until the
// trial is exhausted or the pool is cancelled.
func processTrial(
	ctx context.Context,
	trialIndex int,
	trial Trial,
	metadata Labels,
	plan trialPlan,
	opts Options,
	existing map[string]struct{},
	resultCh chan<- chunkResult,
) {
	send := func(result chunkResult) bool {
		select {
		case resultCh <- result:
			return true
		case <-ctx.Done():
			return false
		}
	}

	seq, seqErr := Chunks(trial, metadata, chunkParams(opts))
	if seqErr != nil {
		send(chunkResult{trial: trialIndex, err: fmt.Errorf("trial %d: %w", trialIndex, seqErr)})

		return
	}

	window := 0

	for chunk := range seq {
		key := clipID(plan.idBase + window)
		window++

		if _, skip := existing[key]; skip {
			continue
		}

		signal, transformErr := applyOffline(opts.OfflineTransform, chunk.Signal)
		if transformErr != nil {
			if !send(chunkResult{trial: trialIndex, window: chunk.Window, err: chunkError(trialIndex, chunk.Window, transformErr)}) {
				return
			}

			continue
		}

		if !send(chunkResult{key: key, signal: signal, labels: chunk.Labels, trial: trialIndex, window: chunk.Window}) {
			return
		}
	}

	if opts.Verbose {
		log.Printf("epochcache: trial %d done (%d chunks)", trialIndex, len(plan.windows))
	}
}

// chunkError tags a transform failure with its chunk's coordinates.
func chunkError(trial int, window Window, err error) error {
	return fmt.Errorf("%w: trial %d window [%d,%d): %w", ErrTransform, trial, window.Start, window.End, err)
}

// clipID formats a clip identifier. Identifiers are decimal strings of
// the chunk's global position; they stay stable for a cache path across
// runs and re-opens.
func clipID(id int) string {
	return strconv.Itoa(id)
}

// chunkParams extracts the chunking parameters from dataset options.
func chunkParams(opts Options) ChunkParams {
	return ChunkParams{ChunkSize: opts.ChunkSize, Overlap: opts.Overlap, Channels: opts.Channels}
}

// storeOptions maps dataset options onto store options.
func storeOptions(opts Options) trialstore.Options {
	return trialstore.Options{MaxSize: opts.MaxCacheSize, LockTimeout: opts.LockTimeout}
}
