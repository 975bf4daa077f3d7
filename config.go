package epochcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Config errors.
var (
	errConfigFileNotFound = errors.New("options file not found")
	errConfigInvalid      = errors.New("invalid options file")
)

// fileOptions mirrors the externally supplied configuration surface in an
// options file. Transforms are code, not configuration, and are attached
// by the caller after loading.
type fileOptions struct {
	Path         string `json:"path"`
	ChunkSize    int    `json:"chunk_size"`
	Overlap      int    `json:"overlap"`
	Channels     []int  `json:"channels"`
	Workers      int    `json:"workers"`
	Verbose      bool   `json:"verbose"`
	MaxCacheSize int64  `json:"max_cache_size"`
	LockTimeout  string `json:"lock_timeout"` // Go duration string, e.g. "5s"
}

// LoadOptions reads dataset options from a JSONC file (JSON with comments
// and trailing commas permitted).
//
// Example file:
//
//	{
//	    // 1s windows at 160 Hz, no overlap
//	    "path": "./io/physionet",
//	    "chunk_size": 160,
//	    "overlap": 0,
//	    "workers": 4,
//	}
//
// An absent chunk_size leaves segmentation disabled.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return Options{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}

		return Options{}, fmt.Errorf("reading options file: %w", err)
	}

	// Standardize JSONC to JSON.
	standardized, standardizeErr := hujson.Standardize(data)
	if standardizeErr != nil {
		return Options{}, fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, standardizeErr)
	}

	var raw fileOptions

	unmarshalErr := json.Unmarshal(standardized, &raw)
	if unmarshalErr != nil {
		return Options{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, unmarshalErr)
	}

	if raw.Path == "" {
		return Options{}, fmt.Errorf("%w %s: %w: path cannot be empty", errConfigInvalid, path, ErrInvalidInput)
	}

	opts := Options{
		Path:         raw.Path,
		ChunkSize:    raw.ChunkSize,
		Overlap:      raw.Overlap,
		Channels:     raw.Channels,
		Workers:      raw.Workers,
		Verbose:      raw.Verbose,
		MaxCacheSize: raw.MaxCacheSize,
	}

	if raw.LockTimeout != "" {
		timeout, parseErr := time.ParseDuration(raw.LockTimeout)
		if parseErr != nil {
			return Options{}, fmt.Errorf("%w %s: lock_timeout: %w", errConfigInvalid, path, parseErr)
		}

		opts.LockTimeout = timeout
	}

	return opts, nil
}
