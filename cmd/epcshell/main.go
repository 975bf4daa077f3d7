// epcshell is an interactive browser for epoch cache directories.
//
// Usage:
//
//	epcshell <cache-dir>
//
// Commands (in REPL):
//
//	len                 Count records
//	keys [limit]        List clip identifiers
//	get <key>           Show a record's signal shape and sample values
//	labels <key>        Show a record's label record
//	at <index>          Show the record at an insertion-order position
//	info                Show cache info
//	verify              CRC-check every record
//	help                Show this help
//	exit / quit / q     Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/epochcache/internal/trialstore"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: epcshell <cache-dir>")

		return errors.New("missing cache directory path")
	}

	dir := os.Args[1]

	store, err := trialstore.Open(dir, trialstore.Options{})
	if err != nil {
		return err
	}

	defer func() { _ = store.Close() }()

	shell := &shell{dir: dir, store: store}

	return shell.Run()
}

// shell is the interactive command loop over an open store.
type shell struct {
	dir   string
	store *trialstore.Store
	liner *liner.State
}

var shellCommands = []string{
	"len", "keys", "get", "labels", "at", "info", "verify", "help", "exit", "quit",
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".epcshell_history")
}

// Run starts the REPL loop.
func (s *shell) Run() error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.completer)

	if f, err := os.Open(historyFile()); err == nil {
		s.liner.ReadHistory(f)
		f.Close()
	}

	count, complete := s.store.Complete()
	state := "partial"

	if complete {
		state = fmt.Sprintf("complete, %d records", count)
	}

	fmt.Printf("epcshell - %s (%d records, %s)\n", s.dir, s.store.Len(), state)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := s.liner.Prompt("epc> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			s.saveHistory()

			return nil

		case "help", "?":
			s.printHelp()

		case "len", "count":
			fmt.Println(s.store.Len())

		case "keys", "ls", "list":
			s.cmdKeys(args)

		case "get":
			s.cmdGet(args)

		case "labels":
			s.cmdLabels(args)

		case "at":
			s.cmdAt(args)

		case "info":
			s.cmdInfo()

		case "verify":
			s.cmdVerify()

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	s.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (s *shell) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			s.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (s *shell) completer(line string) []string {
	var out []string

	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, strings.ToLower(line)) {
			out = append(out, cmd)
		}
	}

	return out
}

func (s *shell) printHelp() {
	fmt.Println(`Commands:
  len                 Count records
  keys [limit]        List clip identifiers
  get <key>           Show a record's signal shape and sample values
  labels <key>        Show a record's label record
  at <index>          Show the record at an insertion-order position
  info                Show cache info
  verify              CRC-check every record
  help                Show this help
  exit / quit / q     Exit`)
}

func (s *shell) cmdKeys(args []string) {
	limit := 0

	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("invalid limit: %s\n", args[0])

			return
		}

		limit = n
	}

	keys := s.store.Keys()
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	for _, key := range keys {
		fmt.Println(key)
	}

	if limit > 0 && s.store.Len() > limit {
		fmt.Printf("... (%d more)\n", s.store.Len()-limit)
	}
}

func (s *shell) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: get <key>")

		return
	}

	signal, labels, err := s.store.Get(args[0])
	if err != nil {
		fmt.Printf("get failed: %v\n", err)

		return
	}

	printRecord(args[0], signal, labels)
}

func (s *shell) cmdAt(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: at <index>")

		return
	}

	index, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("invalid index: %s\n", args[0])

		return
	}

	key, keyErr := s.store.Key(index)
	if keyErr != nil {
		fmt.Printf("at failed: %v\n", keyErr)

		return
	}

	signal, labels, getErr := s.store.Get(key)
	if getErr != nil {
		fmt.Printf("at failed: %v\n", getErr)

		return
	}

	printRecord(key, signal, labels)
}

func (s *shell) cmdLabels(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: labels <key>")

		return
	}

	_, labels, err := s.store.Get(args[0])
	if err != nil {
		fmt.Printf("labels failed: %v\n", err)

		return
	}

	printLabels(labels)
}

func (s *shell) cmdInfo() {
	count, complete := s.store.Complete()

	fmt.Printf("path:     %s\n", s.dir)
	fmt.Printf("records:  %d\n", s.store.Len())
	fmt.Printf("log size: %d bytes\n", s.store.Size())

	if complete {
		fmt.Printf("complete: yes (%d records)\n", count)
	} else {
		fmt.Println("complete: no")
	}
}

func (s *shell) cmdVerify() {
	err := s.store.Verify()
	if err != nil {
		fmt.Printf("verify failed: %v\n", err)

		return
	}

	fmt.Printf("ok: %d records verified\n", s.store.Len())
}

// printRecord shows a record's shape, a preview of each channel's first
// samples, and its labels.
func printRecord(key string, signal [][]float64, labels map[string]any) {
	samples := 0
	if len(signal) > 0 {
		samples = len(signal[0])
	}

	fmt.Printf("key:    %s\n", key)
	fmt.Printf("shape:  %d channels x %d samples\n", len(signal), samples)

	const preview = 6

	for c, row := range signal {
		n := min(preview, len(row))

		fmt.Printf("ch %2d:  %v", c, row[:n])

		if len(row) > n {
			fmt.Printf(" ... (%d more)", len(row)-n)
		}

		fmt.Println()
	}

	printLabels(labels)
}

func printLabels(labels map[string]any) {
	fields := make([]string, 0, len(labels))
	for field := range labels {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	for _, field := range fields {
		fmt.Printf("%s = %v\n", field, labels[field])
	}
}
