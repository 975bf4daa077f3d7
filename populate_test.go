package epochcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/epochcache/internal/trialstore"
)

// trialFixture builds trial i with values that encode their coordinates
// (trial*10000 + channel*1000 + t), so any record can be traced back to
// its source window.
func trialFixture(trial, channels, samples int) Trial {
	data := make(Signal, channels)

	for c := range data {
		data[c] = make([]float64, samples)

		for i := range data[c] {
			data[c][i] = float64(trial*10000 + c*1000 + i)
		}
	}

	return Trial{
		Samples: data,
		Event:   Labels{"event": trial % 2},
	}
}

func fixtureSet(lengths []int, channels int) ([]Trial, []Labels) {
	trials := make([]Trial, len(lengths))
	metadata := make([]Labels, len(lengths))

	for i, samples := range lengths {
		trials[i] = trialFixture(i, channels, samples)
		metadata[i] = Labels{"subject": 1, "run": i}
	}

	return trials, metadata
}

// readAll loads every record of a populated store keyed by clip id.
func readAll(t *testing.T, dir string) map[string]Chunk {
	t.Helper()

	store, err := trialstore.Open(dir, trialstore.Options{})
	require.NoError(t, err)

	defer func() { _ = store.Close() }()

	out := make(map[string]Chunk, store.Len())

	for _, key := range store.Keys() {
		signal, labels, getErr := store.Get(key)
		require.NoError(t, getErr)

		out[key] = Chunk{Signal: signal, Labels: labels}
	}

	return out
}

func TestPopulateCountsAndIdentifiers(t *testing.T) {
	t.Parallel()

	// Window counts with chunk=160 overlap=40 (step 120):
	// L=500 -> 3, L=300 -> 2, L=200 -> 1.
	trials, metadata := fixtureSet([]int{500, 300, 200}, 2)

	opts := Options{Path: t.TempDir(), ChunkSize: 160, Overlap: 40}

	count, err := Populate(context.Background(), trials, metadata, opts)
	require.NoError(t, err)
	require.Equal(t, 6, count)

	records := readAll(t, opts.Path)

	for i := range 6 {
		assert.Contains(t, records, fmt.Sprint(i))
	}

	// Trial 1's range starts after trial 0's three windows; its first
	// chunk carries trial 1's first window and merged labels.
	rec := records["3"]

	assert.Equal(t, 10000.0, rec.Signal[0][0])
	assert.Equal(t, Labels{"subject": 1, "run": 1, "event": 1}, rec.Labels)
}

func TestPopulateCompleteIsNoOp(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{500, 300}, 2)

	opts := Options{Path: t.TempDir(), ChunkSize: 160}

	count, err := Populate(context.Background(), trials, metadata, opts)
	require.NoError(t, err)

	before := readAll(t, opts.Path)

	// Second run against a complete store must not touch it, even with a
	// transform that would fail every chunk.
	opts.OfflineTransform = TransformFunc(func(Signal) (Signal, error) {
		return nil, errors.New("must never run")
	})

	again, err := Populate(context.Background(), trials, metadata, opts)
	require.NoError(t, err)
	require.Equal(t, count, again)

	if diff := cmp.Diff(before, readAll(t, opts.Path)); diff != "" {
		t.Errorf("records changed on no-op populate (-before +after):\n%s", diff)
	}
}

func TestPopulateWorkerCountDoesNotChangeContent(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{500, 480, 320, 160, 403}, 3)

	serialOpts := Options{Path: t.TempDir(), ChunkSize: 160, Overlap: 80}

	serialCount, err := Populate(context.Background(), trials, metadata, serialOpts)
	require.NoError(t, err)

	parallelOpts := serialOpts
	parallelOpts.Path = t.TempDir()
	parallelOpts.Workers = 4

	parallelCount, err := Populate(context.Background(), trials, metadata, parallelOpts)
	require.NoError(t, err)
	require.Equal(t, serialCount, parallelCount)

	// Clip ids are pre-assigned from the input order, so the two stores
	// hold identical content under identical identifiers; only insertion
	// order may differ.
	if diff := cmp.Diff(readAll(t, serialOpts.Path), readAll(t, parallelOpts.Path)); diff != "" {
		t.Errorf("content differs between worker counts (-serial +parallel):\n%s", diff)
	}
}

func TestPopulateTransformFailureSkipsChunkOnly(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{0, 3} {
		t.Run(fmt.Sprintf("Workers%d", workers), func(t *testing.T) {
			t.Parallel()

			trials, metadata := fixtureSet([]int{320, 320, 320, 320}, 2)

			opts := Options{
				Path:      t.TempDir(),
				ChunkSize: 160,
				Workers:   workers,
				// Values 20000..29999 belong to trial 2.
				OfflineTransform: TransformFunc(func(signal Signal) (Signal, error) {
					if signal[0][0] >= 20000 && signal[0][0] < 30000 {
						return nil, errors.New("bad electrode")
					}

					return signal, nil
				}),
			}

			_, err := Populate(context.Background(), trials, metadata, opts)
			require.ErrorIs(t, err, ErrTransform)

			// The failed chunks are named with their coordinates.
			assert.Contains(t, err.Error(), "trial 2")

			// Every other trial's records are durable and readable.
			records := readAll(t, opts.Path)
			require.Len(t, records, 6)

			for _, id := range []string{"0", "1", "2", "3", "6", "7"} {
				assert.Contains(t, records, id)
			}

			// The store is not complete, so the dataset refuses to open...
			_, openErr := Open(opts)
			require.ErrorIs(t, openErr, ErrNotPopulated)

			// ...and a later run with a healthy transform fills exactly
			// the missing chunks.
			opts.OfflineTransform = nil

			count, resumeErr := Populate(context.Background(), trials, metadata, opts)
			require.NoError(t, resumeErr)
			require.Equal(t, 8, count)

			ds, dsErr := Open(opts)
			require.NoError(t, dsErr)

			defer func() { _ = ds.Close() }()

			require.Equal(t, 8, ds.Len())
		})
	}
}

func TestPopulateMismatchedInputs(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{100, 100}, 1)

	_, err := Populate(context.Background(), trials, metadata[:1], Options{Path: t.TempDir()})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPopulateFailsFastOnBadParams(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{100}, 2)

	testCases := []struct {
		name string
		opts Options
	}{
		{name: "MissingPath", opts: Options{ChunkSize: 10}},
		{name: "OverlapEqualsChunk", opts: Options{Path: "x", ChunkSize: 10, Overlap: 10}},
		{name: "BadChannel", opts: Options{Path: "x", ChunkSize: 10, Channels: []int{5}}},
		{name: "NegativeWorkers", opts: Options{Path: "x", ChunkSize: 10, Workers: -1}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			opts := testCase.opts
			if opts.Path == "x" {
				opts.Path = t.TempDir()
			}

			_, err := Populate(context.Background(), trials, metadata, opts)
			require.ErrorIs(t, err, ErrInvalidInput)

			// Fail fast: no store files were created for param errors
			// raised before the store opens.
		})
	}
}

func TestPopulateStoreFullIsFatal(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{4096, 4096}, 4)

	opts := Options{Path: t.TempDir(), ChunkSize: 256, MaxCacheSize: 2048}

	_, err := Populate(context.Background(), trials, metadata, opts)
	require.ErrorIs(t, err, trialstore.ErrFull)

	_, openErr := Open(opts)
	require.ErrorIs(t, openErr, ErrNotPopulated)
}

func TestPopulateCancelled(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{500, 500, 500}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Populate(ctx, trials, metadata, Options{Path: t.TempDir(), ChunkSize: 100, Workers: 2})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPopulateEmptyInput(t *testing.T) {
	t.Parallel()

	opts := Options{Path: t.TempDir(), ChunkSize: 160}

	count, err := Populate(context.Background(), nil, nil, opts)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	ds, openErr := Open(opts)
	require.NoError(t, openErr)

	defer func() { _ = ds.Close() }()

	require.Equal(t, 0, ds.Len())
}

func TestPopulateConcurrentRunsSerialize(t *testing.T) {
	t.Parallel()

	trials, metadata := fixtureSet([]int{200}, 1)

	dir := t.TempDir()

	writer, err := trialstore.OpenWriter(dir, trialstore.Options{})
	require.NoError(t, err)

	defer func() { _ = writer.Close() }()

	_, popErr := Populate(context.Background(), trials, metadata, Options{
		Path:        dir,
		ChunkSize:   100,
		LockTimeout: 50 * time.Millisecond,
	})
	require.ErrorIs(t, popErr, trialstore.ErrBusy)
}
