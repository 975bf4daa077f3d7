package epochcache

import "time"

// Signal is a 2-D block of samples, channels by time. Rows must be the
// same length (rectangular).
type Signal [][]float64

// Labels is the label record attached to a sample: field name to scalar
// value (string, bool, int family, float64). Values outside that set are
// not guaranteed to survive a cache round trip.
type Labels map[string]any

// Clone returns a shallow copy of the label record. Clone of nil is an
// empty, non-nil map.
func (l Labels) Clone() Labels {
	out := make(Labels, len(l))

	for key, value := range l {
		out[key] = value
	}

	return out
}

// Trial is one labeled epoch: a rectangular signal block plus an optional
// event annotation. Trials are treated as immutable once handed to the
// dataset.
type Trial struct {
	// Samples holds the raw signal, channels by time.
	Samples Signal

	// Event carries the trial's annotated event fields (for example
	// {"event": 2}). It is merged into every emitted chunk's label record
	// below the trial metadata: on key collision the metadata wins.
	Event Labels
}

// channels returns the number of channel rows.
func (t Trial) channels() int {
	return len(t.Samples)
}

// sampleCount returns the trial's time extent, validating that the signal
// block is rectangular.
func (t Trial) sampleCount() (int, error) {
	if len(t.Samples) == 0 {
		return 0, nil
	}

	n := len(t.Samples[0])

	for i, row := range t.Samples {
		if len(row) != n {
			return 0, errRaggedTrial(i, len(row), n)
		}
	}

	return n, nil
}

// Chunk is one emitted window: the sliced signal plus its derived label
// record. Signal rows alias the source trial's backing arrays; transforms
// must return fresh storage rather than mutate in place.
type Chunk struct {
	Signal Signal
	Labels Labels
	Window Window
}

// Seq is the iterator type returned by [Chunks].
//
// It matches the shape of iter.Seq[Chunk] so callers can range over it
// directly. The sequence is finite and restartable: ranging twice yields
// the identical chunks in the identical order.
type Seq func(yield func(Chunk) bool)

// Options configure a dataset instance.
//
// Only Path is required. The zero ChunkSize disables segmentation (one
// chunk per trial).
type Options struct {
	// Path is the cache directory. Created on first populate.
	Path string

	// ChunkSize is the window width in samples. <= 0 means no
	// segmentation: each trial becomes exactly one chunk.
	ChunkSize int

	// Overlap is the number of samples shared by consecutive windows.
	// Must satisfy 0 <= Overlap < ChunkSize when ChunkSize > 0.
	Overlap int

	// Channels restricts chunks to these channel rows, in the given
	// order. Nil means all channels.
	Channels []int

	// OfflineTransform runs once per chunk during population, before the
	// record is written. Nil means identity.
	OfflineTransform Transform

	// OnlineTransform runs on every [Dataset.Get], after the record is
	// read. Nil means identity.
	OnlineTransform Transform

	// LabelTransform runs on the label record on every [Dataset.Get].
	// Nil returns the full merged label record.
	LabelTransform LabelTransform

	// Workers is the number of chunking/transform workers during
	// population. 0 means single-goroutine, deterministic execution.
	Workers int

	// Verbose enables per-trial progress logging during population.
	Verbose bool

	// MaxCacheSize caps the record log in bytes. 0 means 64 GiB.
	MaxCacheSize int64

	// LockTimeout bounds how long populate waits for the store lock held
	// by a concurrent run. 0 means 5 seconds.
	LockTimeout time.Duration
}

// mergeLabels derives a chunk's label record: the event annotation
// overlaid by the trial metadata, which wins on key collision.
func mergeLabels(event, metadata Labels) Labels {
	out := make(Labels, len(event)+len(metadata))

	for key, value := range event {
		out[key] = value
	}

	for key, value := range metadata {
		out[key] = value
	}

	return out
}
