// Package epochcache adapts electrophysiology epoch collections into a
// cached, indexable sample dataset for ML training loops.
//
// Variable-length labeled trials (channels by time) are segmented into
// fixed-size overlapping windows, optionally transformed offline, and
// written once into a persistent, process-safe on-disk store. Subsequent
// constructions against the same cache path skip preprocessing entirely
// and serve integer-indexed random access with online transforms applied
// at read time.
//
// Basic usage:
//
//	trials := []epochcache.Trial{
//	    {Samples: run3, Event: epochcache.Labels{"event": 1}},
//	    {Samples: run7, Event: epochcache.Labels{"event": 2}},
//	}
//	metadata := []epochcache.Labels{
//	    {"subject": 1, "run": 3},
//	    {"subject": 1, "run": 7},
//	}
//
//	ds, err := epochcache.New(ctx, trials, metadata, epochcache.Options{
//	    Path:      "./io/physionet",
//	    ChunkSize: 160, // 1s windows at 160 Hz
//	    Workers:   4,
//	})
//	if err != nil {
//	    return err
//	}
//	defer ds.Close()
//
//	signal, labels, err := ds.Get(0)
//
// Population fans out across worker goroutines while all writes funnel
// through a single writer, and an exclusive file lock serializes
// concurrent populate runs against the same path. Clip identifiers are
// pre-assigned from the input order, so cache content is reproducible
// regardless of the worker count and interrupted runs resume without
// duplicating records.
package epochcache
