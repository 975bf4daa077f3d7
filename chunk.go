package epochcache

import "fmt"

// Window is a half-open [Start, End) slice of a trial's time axis.
type Window struct {
	Start int
	End   int
}

// ChunkParams configure how a trial is segmented.
type ChunkParams struct {
	// ChunkSize is the window width in samples. <= 0 means no
	// segmentation: the whole trial is emitted as a single window.
	ChunkSize int

	// Overlap is the number of samples shared by consecutive windows.
	Overlap int

	// Channels restricts the emitted rows to these channel indices, in
	// the given order. Nil means all channels.
	Channels []int
}

// Windows computes the windows a trial of sampleCount samples yields.
//
// With chunkSize <= 0 the result is a single window spanning the whole
// trial. Otherwise windows of width chunkSize start at 0 and advance by
// chunkSize-overlap; the final partial remainder is dropped, so every
// window lies fully inside [0, sampleCount).
//
// Possible errors: [ErrInvalidInput] when overlap is negative or
// overlap >= chunkSize (the step would be zero and the sequence would
// never advance), or when sampleCount is negative.
func Windows(sampleCount, chunkSize, overlap int) ([]Window, error) {
	if sampleCount < 0 {
		return nil, fmt.Errorf("%w: negative sample count %d", ErrInvalidInput, sampleCount)
	}

	if chunkSize <= 0 {
		return []Window{{Start: 0, End: sampleCount}}, nil
	}

	if overlap < 0 {
		return nil, fmt.Errorf("%w: negative overlap %d", ErrInvalidInput, overlap)
	}

	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidInput, overlap, chunkSize)
	}

	step := chunkSize - overlap

	windows := make([]Window, 0, sampleCount/step)

	for start := 0; start+chunkSize <= sampleCount; start += step {
		windows = append(windows, Window{Start: start, End: start + chunkSize})
	}

	return windows, nil
}

// Chunks segments one trial into a lazy sequence of labeled chunks.
//
// Each chunk's label record is the trial's event annotation merged under
// metadata (metadata wins on collision). Chunk signal rows alias the
// trial's backing arrays.
//
// All parameters are validated before the sequence is returned, so a nil
// error guarantees the full sequence emits without failure. The sequence
// is restartable: ranging twice yields the identical chunks in the
// identical order.
//
// Possible errors: [ErrInvalidInput] for bad chunk/overlap parameters,
// out-of-range channel indices, or a ragged trial.
func Chunks(trial Trial, metadata Labels, params ChunkParams) (Seq, error) {
	sampleCount, err := trial.sampleCount()
	if err != nil {
		return nil, err
	}

	windows, windowsErr := Windows(sampleCount, params.ChunkSize, params.Overlap)
	if windowsErr != nil {
		return nil, windowsErr
	}

	channels, channelsErr := resolveChannels(params.Channels, trial.channels())
	if channelsErr != nil {
		return nil, channelsErr
	}

	labels := mergeLabels(trial.Event, metadata)

	seq := func(yield func(Chunk) bool) {
		for _, window := range windows {
			signal := make(Signal, len(channels))

			for i, channel := range channels {
				signal[i] = trial.Samples[channel][window.Start:window.End]
			}

			if !yield(Chunk{Signal: signal, Labels: labels.Clone(), Window: window}) {
				return
			}
		}
	}

	return seq, nil
}

// resolveChannels expands the channel subset against the trial's channel
// count. A nil subset selects every channel in natural order.
func resolveChannels(subset []int, channelCount int) ([]int, error) {
	if subset == nil {
		all := make([]int, channelCount)

		for i := range all {
			all[i] = i
		}

		return all, nil
	}

	out := make([]int, len(subset))

	for i, channel := range subset {
		if channel < 0 || channel >= channelCount {
			return nil, fmt.Errorf("%w: channel %d out of range [0,%d)", ErrInvalidInput, channel, channelCount)
		}

		out[i] = channel
	}

	return out, nil
}

// errRaggedTrial reports a trial whose rows differ in length.
func errRaggedTrial(row, got, want int) error {
	return fmt.Errorf("%w: ragged trial: channel %d has %d samples, want %d", ErrInvalidInput, row, got, want)
}
