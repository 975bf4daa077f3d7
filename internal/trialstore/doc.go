// Package trialstore implements the persistent record store backing a
// populated epoch cache.
//
// A store is a directory containing an append-only, CRC-framed record log
// plus a completion marker:
//
//	records.dat        log: fixed header followed by framed records
//	records.dat.lock   flock(2) file guarding the single writer
//	complete.json      atomic marker written after a successful populate
//
// Records are write-once: a clip identifier is appended at most once per
// store lifetime and never overwritten. Keys enumerate in insertion order.
//
// Concurrency discipline is single-writer, multiple-reader. A [Writer]
// holds an exclusive flock for its whole lifetime, so concurrent populate
// runs against the same path serialize instead of corrupting the log.
// Readers ([Store]) mmap the log read-only and never take the lock;
// opening a reader while a writer is appending is unsupported.
//
// A torn tail frame (crash during append) is ignored by readers and
// truncated by the next writer. CRC mismatches anywhere else report
// [ErrCorrupt].
package trialstore
