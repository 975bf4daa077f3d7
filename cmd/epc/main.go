// epc is an operator CLI for epoch cache directories.
//
// Usage:
//
//	epc seed [flags] <cache-dir>    Populate a cache with synthetic trials
//	epc info <cache-dir>            Show record count, completion and size
//	epc keys [flags] <cache-dir>    List clip identifiers
//	epc verify <cache-dir>          Re-scan every record and check its CRC
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/epochcache"
	"github.com/calvinalkan/epochcache/internal/trialstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()

		return errors.New("missing command")
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "seed":
		return cmdSeed(ctx, rest)
	case "info":
		return cmdInfo(rest)
	case "keys":
		return cmdKeys(rest)
	case "verify":
		return cmdVerify(rest)
	case "help", "-h", "--help":
		printUsage()

		return nil
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: epc <command> [flags] <cache-dir>

Commands:
  seed      Populate a cache with synthetic sine-wave trials
  info      Show record count, completion state and log size
  keys      List clip identifiers
  verify    Re-scan every record and check its CRC

Run 'epc <command> --help' for command flags.
`)
}

func cmdSeed(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("seed", flag.ContinueOnError)

	trialCount := flags.IntP("trials", "n", 16, "number of synthetic trials")
	channels := flags.IntP("channels", "c", 32, "channels per trial")
	samples := flags.IntP("samples", "s", 640, "samples per trial")
	chunkSize := flags.Int("chunk-size", 160, "window length in samples (<=0 disables segmentation)")
	overlap := flags.Int("overlap", 0, "overlapping samples between consecutive windows")
	workers := flags.IntP("workers", "w", 0, "parallel workers (0 runs in-process)")
	verbose := flags.BoolP("verbose", "v", false, "log per-trial progress")

	err := flags.Parse(args)
	if err != nil {
		return err
	}

	dir, dirErr := cacheDirArg(flags.Args())
	if dirErr != nil {
		return dirErr
	}

	trials, metadata := syntheticTrials(*trialCount, *channels, *samples)

	opts := epochcache.Options{
		Path:      dir,
		ChunkSize: *chunkSize,
		Overlap:   *overlap,
		Workers:   *workers,
		Verbose:   *verbose,
	}

	start := time.Now()

	count, popErr := epochcache.Populate(ctx, trials, metadata, opts)
	if popErr != nil {
		return popErr
	}

	fmt.Printf("seeded %d records into %s in %s\n", count, dir, time.Since(start).Round(time.Millisecond))

	return nil
}

// syntheticTrials builds deterministic sine-wave trials. Trial i oscillates
// at i+1 "cycles" per trial with a per-channel phase shift, so seeded
// caches are reproducible and individual records are distinguishable.
func syntheticTrials(trialCount, channels, samples int) ([]epochcache.Trial, []epochcache.Labels) {
	trials := make([]epochcache.Trial, trialCount)
	metadata := make([]epochcache.Labels, trialCount)

	for i := range trials {
		data := make(epochcache.Signal, channels)

		for c := range data {
			data[c] = make([]float64, samples)

			phase := float64(c) * math.Pi / 8

			for t := range data[c] {
				data[c][t] = math.Sin(2*math.Pi*float64(i+1)*float64(t)/float64(samples) + phase)
			}
		}

		trials[i] = epochcache.Trial{
			Samples: data,
			Event:   epochcache.Labels{"event": i % 4},
		}
		metadata[i] = epochcache.Labels{"subject": i/4 + 1, "run": i}
	}

	return trials, metadata
}

func cmdInfo(args []string) error {
	flags := flag.NewFlagSet("info", flag.ContinueOnError)

	err := flags.Parse(args)
	if err != nil {
		return err
	}

	dir, dirErr := cacheDirArg(flags.Args())
	if dirErr != nil {
		return dirErr
	}

	store, openErr := trialstore.Open(dir, trialstore.Options{})
	if openErr != nil {
		return openErr
	}

	defer func() { _ = store.Close() }()

	count, complete := store.Complete()

	fmt.Printf("path:     %s\n", dir)
	fmt.Printf("records:  %d\n", store.Len())
	fmt.Printf("log size: %d bytes\n", store.Size())

	if complete {
		fmt.Printf("complete: yes (%d records)\n", count)
	} else {
		fmt.Println("complete: no")
	}

	return nil
}

func cmdKeys(args []string) error {
	flags := flag.NewFlagSet("keys", flag.ContinueOnError)

	limit := flags.Int("limit", 0, "maximum keys to print (0 prints all)")
	offset := flags.Int("offset", 0, "skip the first N keys")

	err := flags.Parse(args)
	if err != nil {
		return err
	}

	dir, dirErr := cacheDirArg(flags.Args())
	if dirErr != nil {
		return dirErr
	}

	store, openErr := trialstore.Open(dir, trialstore.Options{})
	if openErr != nil {
		return openErr
	}

	defer func() { _ = store.Close() }()

	keys := store.Keys()

	if *offset > len(keys) {
		return nil
	}

	keys = keys[*offset:]

	if *limit > 0 && *limit < len(keys) {
		keys = keys[:*limit]
	}

	for _, key := range keys {
		fmt.Println(key)
	}

	return nil
}

func cmdVerify(args []string) error {
	flags := flag.NewFlagSet("verify", flag.ContinueOnError)

	err := flags.Parse(args)
	if err != nil {
		return err
	}

	dir, dirErr := cacheDirArg(flags.Args())
	if dirErr != nil {
		return dirErr
	}

	store, openErr := trialstore.Open(dir, trialstore.Options{})
	if openErr != nil {
		return openErr
	}

	defer func() { _ = store.Close() }()

	verifyErr := store.Verify()
	if verifyErr != nil {
		return verifyErr
	}

	fmt.Printf("ok: %d records verified\n", store.Len())

	return nil
}

func cacheDirArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one cache directory argument")
	}

	return args[0], nil
}
