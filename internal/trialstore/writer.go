package trialstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// lockRetryInterval is the poll interval while waiting for the store lock.
const lockRetryInterval = 10 * time.Millisecond

// Writer is the exclusive append handle for a store directory.
//
// A Writer holds the store flock from [OpenWriter] until [Writer.Close],
// guaranteeing at most one writer per store path across processes. It is
// not safe for concurrent use by multiple goroutines; the populator
// funnels all records through a single owning goroutine.
type Writer struct {
	dir  string
	opts Options

	file     *os.File
	lockFile *os.File
	size     int64

	keys  []string
	known map[string]struct{}

	isClosed bool
}

// OpenWriter opens dir for appending, creating the directory and record
// log as needed.
//
// It acquires the store's exclusive flock, waiting up to
// [Options.LockTimeout]; contention past the timeout returns [ErrBusy].
// An existing log is scanned so appends resume after the last complete
// frame, truncating any torn tail left by a crash.
func OpenWriter(dir string, opts Options) (*Writer, error) {
	opts = opts.withDefaults()

	dirErr := ensureDir(dir)
	if dirErr != nil {
		return nil, dirErr
	}

	lockFile, lockErr := acquireLock(filepath.Join(dir, lockFileName), opts.LockTimeout)
	if lockErr != nil {
		return nil, lockErr
	}

	logPath := filepath.Join(dir, logFileName)

	file, openErr := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, filePerms) //nolint:gosec // path is constructed from dir
	if openErr != nil {
		releaseLock(lockFile)

		return nil, fmt.Errorf("opening record log: %w", openErr)
	}

	writer := &Writer{
		dir:      dir,
		opts:     opts,
		file:     file,
		lockFile: lockFile,
		known:    map[string]struct{}{},
	}

	initErr := writer.initLog()
	if initErr != nil {
		_ = file.Close()

		releaseLock(lockFile)

		return nil, initErr
	}

	return writer, nil
}

// initLog writes a fresh header or scans an existing log for resumption.
func (w *Writer) initLog() error {
	info, statErr := w.file.Stat()
	if statErr != nil {
		return fmt.Errorf("stat record log: %w", statErr)
	}

	if info.Size() == 0 {
		_, writeErr := w.file.Write(encodeHeader())
		if writeErr != nil {
			return fmt.Errorf("writing log header: %w", writeErr)
		}

		syncErr := w.file.Sync()
		if syncErr != nil {
			return fmt.Errorf("syncing log header: %w", syncErr)
		}

		w.size = logHeaderSize

		return nil
	}

	frames, validEnd, scanErr := scanLog(w.file, info.Size())
	if scanErr != nil {
		return scanErr
	}

	for _, fi := range frames {
		if _, dup := w.known[fi.key]; dup {
			return fmt.Errorf("%w: duplicate record %q", ErrCorrupt, fi.key)
		}

		w.keys = append(w.keys, fi.key)
		w.known[fi.key] = struct{}{}
	}

	// Drop the torn tail so the next append starts on a frame boundary.
	if validEnd < info.Size() {
		truncErr := w.file.Truncate(validEnd)
		if truncErr != nil {
			return fmt.Errorf("truncating torn tail: %w", truncErr)
		}
	}

	_, seekErr := w.file.Seek(validEnd, io.SeekStart)
	if seekErr != nil {
		return fmt.Errorf("seeking log end: %w", seekErr)
	}

	w.size = validEnd

	return nil
}

// Len returns the number of records in the log, including those scanned
// at open time.
func (w *Writer) Len() int {
	return len(w.keys)
}

// Has reports whether a record exists for key.
func (w *Writer) Has(key string) bool {
	_, ok := w.known[key]

	return ok
}

// ExistingKeys returns a snapshot of the keys present when called.
//
// The populator hands this set to workers so already-stored chunks skip
// the offline transform on resume; the map must not be read after further
// Puts from another goroutine.
func (w *Writer) ExistingKeys() map[string]struct{} {
	out := make(map[string]struct{}, len(w.known))

	for key := range w.known {
		out[key] = struct{}{}
	}

	return out
}

// Put appends one record. Records are write-once: a key that is already
// stored returns [ErrKeyExists]. Appends that would grow the log beyond
// [Options.MaxSize] return [ErrFull] and write nothing.
func (w *Writer) Put(key string, signal [][]float64, labels map[string]any) error {
	if w.isClosed {
		return ErrClosed
	}

	if _, exists := w.known[key]; exists {
		return fmt.Errorf("%w: %q", ErrKeyExists, key)
	}

	payload, encodeErr := encodePayload(signal, labels)
	if encodeErr != nil {
		return encodeErr
	}

	frame, frameErr := encodeFrame(key, payload)
	if frameErr != nil {
		return frameErr
	}

	if w.size+int64(len(frame)) > w.opts.MaxSize {
		return fmt.Errorf("%w: log would exceed %d bytes", ErrFull, w.opts.MaxSize)
	}

	_, writeErr := w.file.Write(frame)
	if writeErr != nil {
		return fmt.Errorf("appending record %q: %w", key, writeErr)
	}

	w.size += int64(len(frame))
	w.keys = append(w.keys, key)
	w.known[key] = struct{}{}

	return nil
}

// Sync flushes the record log to disk.
func (w *Writer) Sync() error {
	if w.isClosed {
		return ErrClosed
	}

	err := w.file.Sync()
	if err != nil {
		return fmt.Errorf("syncing record log: %w", err)
	}

	return nil
}

// Complete reports whether the store already carries a valid completion
// marker for its current record count.
func (w *Writer) Complete() (int, bool) {
	return readMarker(w.dir, len(w.keys))
}

// MarkComplete durably records that population finished: the log is
// synced, then the marker is written via atomic rename and the directory
// fsynced so the marker never exists without the records it counts.
func (w *Writer) MarkComplete() error {
	if w.isClosed {
		return ErrClosed
	}

	syncErr := w.Sync()
	if syncErr != nil {
		return syncErr
	}

	body, marshalErr := json.Marshal(marker{Records: len(w.keys)})
	if marshalErr != nil {
		return fmt.Errorf("encoding marker: %w", marshalErr)
	}

	markerPath := filepath.Join(w.dir, markerFileName)

	writeErr := atomic.WriteFile(markerPath, bytes.NewReader(body))
	if writeErr != nil {
		return fmt.Errorf("writing marker: %w", writeErr)
	}

	return fsyncDir(w.dir)
}

// Close syncs the log, releases the store lock, and invalidates the
// writer. Close is idempotent.
func (w *Writer) Close() error {
	if w.isClosed {
		return nil
	}

	w.isClosed = true

	syncErr := w.file.Sync()
	closeErr := w.file.Close()

	releaseLock(w.lockFile)

	if syncErr != nil {
		return fmt.Errorf("syncing record log: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing record log: %w", closeErr)
	}

	return nil
}

// acquireLock takes an exclusive flock on lockPath, polling until timeout.
func acquireLock(lockPath string, timeout time.Duration) (*os.File, error) {
	file, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerms) //nolint:gosec // path is constructed from dir
	if openErr != nil {
		return nil, fmt.Errorf("opening lock file: %w", openErr)
	}

	deadline := time.Now().Add(timeout)

	for {
		flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			return file, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("%w: lock held by another writer: %s", ErrBusy, lockPath)
		}

		time.Sleep(lockRetryInterval)
	}
}

// releaseLock drops the flock and closes the lock file. Safe on nil.
func releaseLock(file *os.File) {
	if file == nil {
		return
	}

	_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
	_ = file.Close()
}

// fsyncDir syncs a directory so a renamed-in file is durable.
func fsyncDir(dir string) error {
	handle, err := os.Open(dir) //nolint:gosec // path is constructed from dir
	if err != nil {
		return fmt.Errorf("opening dir for sync: %w", err)
	}

	syncErr := handle.Sync()
	closeErr := handle.Close()

	if syncErr != nil {
		return fmt.Errorf("syncing dir: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing dir: %w", closeErr)
	}

	return nil
}
