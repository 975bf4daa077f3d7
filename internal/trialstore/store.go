package trialstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Store file names inside a store directory.
const (
	logFileName    = "records.dat"
	lockFileName   = "records.dat.lock"
	markerFileName = "complete.json"
)

// DefaultMaxSize is the default cap on the record log (64 GiB).
const DefaultMaxSize = 64 << 30

// DefaultLockTimeout bounds how long a writer waits for the store lock.
const DefaultLockTimeout = 5 * time.Second

const filePerms = 0o644

// Options configure opening a store directory.
type Options struct {
	// MaxSize caps the record log size in bytes. 0 means [DefaultMaxSize].
	MaxSize int64

	// LockTimeout bounds writer lock acquisition. 0 means
	// [DefaultLockTimeout].
	LockTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}

	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}

	return o
}

// marker is the JSON body of the completion marker file.
type marker struct {
	Records int `json:"records"`
}

// Store is a read-only handle to a store directory.
//
// The record log is mmap'd; all methods are safe for concurrent use by
// multiple goroutines once Open returns. Opening a Store while a [Writer]
// is appending to the same directory is unsupported.
//
// A Store must be obtained via [Open]; the zero value is not usable.
type Store struct {
	dir  string
	data []byte // mmap'd log, nil when the log does not exist yet

	keys   []string
	frames map[string]frameInfo

	isClosed bool
}

// Open opens the store directory for reading.
//
// A directory whose record log does not exist yet opens as an empty store.
func Open(dir string, opts Options) (*Store, error) {
	_ = opts.withDefaults() // no reader-side knobs yet, validated for symmetry

	logPath := filepath.Join(dir, logFileName)

	file, err := os.Open(logPath) //nolint:gosec // path is constructed from dir
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{dir: dir, frames: map[string]frameInfo{}}, nil
		}

		return nil, fmt.Errorf("opening record log: %w", err)
	}

	defer func() { _ = file.Close() }()

	info, statErr := file.Stat()
	if statErr != nil {
		return nil, fmt.Errorf("stat record log: %w", statErr)
	}

	size := info.Size()
	if size == 0 {
		return &Store{dir: dir, frames: map[string]frameInfo{}}, nil
	}

	data, mmapErr := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if mmapErr != nil {
		return nil, fmt.Errorf("mmap record log: %w", mmapErr)
	}

	frames, _, scanErr := scanLog(bytes.NewReader(data), size)
	if scanErr != nil {
		_ = unix.Munmap(data)

		return nil, scanErr
	}

	store := &Store{
		dir:    dir,
		data:   data,
		keys:   make([]string, 0, len(frames)),
		frames: make(map[string]frameInfo, len(frames)),
	}

	for _, fi := range frames {
		if _, dup := store.frames[fi.key]; dup {
			_ = unix.Munmap(data)

			return nil, fmt.Errorf("%w: duplicate record %q", ErrCorrupt, fi.key)
		}

		store.keys = append(store.keys, fi.key)
		store.frames[fi.key] = fi
	}

	return store, nil
}

// Len returns the number of records in insertion order index.
func (s *Store) Len() int {
	return len(s.keys)
}

// Keys returns all record keys in insertion order. The slice is a copy.
func (s *Store) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)

	return out
}

// Key returns the key at insertion-order position i.
func (s *Store) Key(i int) (string, error) {
	if s.isClosed {
		return "", ErrClosed
	}

	if i < 0 || i >= len(s.keys) {
		return "", fmt.Errorf("%w: index %d out of range [0,%d)", ErrNotFound, i, len(s.keys))
	}

	return s.keys[i], nil
}

// Has reports whether a record exists for key.
func (s *Store) Has(key string) bool {
	_, ok := s.frames[key]

	return ok
}

// Get reads the record stored under key, verifying its CRC.
func (s *Store) Get(key string) ([][]float64, map[string]any, error) {
	if s.isClosed {
		return nil, nil, ErrClosed
	}

	fi, ok := s.frames[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: record %q", ErrNotFound, key)
	}

	verifyErr := verifyFrame(bytes.NewReader(s.data), fi)
	if verifyErr != nil {
		return nil, nil, verifyErr
	}

	payload := s.data[fi.payloadOff : fi.payloadOff+int64(fi.payloadLen)]

	return decodePayload(payload)
}

// At reads the record at insertion-order position i.
func (s *Store) At(i int) ([][]float64, map[string]any, error) {
	key, err := s.Key(i)
	if err != nil {
		return nil, nil, err
	}

	return s.Get(key)
}

// Size returns the record log size in bytes.
func (s *Store) Size() int64 {
	return int64(len(s.data))
}

// Complete reports whether the store carries a valid completion marker.
//
// The marker is valid only when its recorded count matches the number of
// scanned records, so a partially populated store never reads as complete.
func (s *Store) Complete() (int, bool) {
	return readMarker(s.dir, len(s.keys))
}

// Verify re-reads every frame and checks its CRC.
func (s *Store) Verify() error {
	if s.isClosed {
		return ErrClosed
	}

	reader := bytes.NewReader(s.data)

	for _, key := range s.keys {
		err := verifyFrame(reader, s.frames[key])
		if err != nil {
			return err
		}
	}

	return nil
}

// Close unmaps the record log.
//
// Close is idempotent; subsequent calls are no-ops.
func (s *Store) Close() error {
	if s.isClosed {
		return nil
	}

	s.isClosed = true

	if s.data != nil {
		err := unix.Munmap(s.data)
		s.data = nil

		if err != nil {
			return fmt.Errorf("munmap record log: %w", err)
		}
	}

	return nil
}

// readMarker loads the completion marker and validates it against the
// actual record count. Returns (count, true) only for a valid marker.
func readMarker(dir string, recordCount int) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dir, markerFileName)) //nolint:gosec // path is constructed from dir
	if err != nil {
		return 0, false
	}

	var m marker

	decodeErr := json.Unmarshal(data, &m)
	if decodeErr != nil {
		return 0, false
	}

	if m.Records != recordCount {
		return 0, false
	}

	return m.Records, true
}

// errNotDir distinguishes a store path that exists but is not a directory.
var errNotDir = errors.New("store path is not a directory")

// ensureDir creates the store directory if needed.
func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", errNotDir, dir)
		}

		return nil
	}

	mkdirErr := os.MkdirAll(dir, 0o755)
	if mkdirErr != nil {
		return fmt.Errorf("creating store directory: %w", mkdirErr)
	}

	return nil
}
