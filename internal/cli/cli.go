// Package cli implements the fodpipe command surface: aggregate a
// detector stream into events, materialize event evidence, seal and
// verify the deterministic pack, and inspect the run catalog.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dkurien/fodpipe/internal/config"
	"github.com/dkurien/fodpipe/internal/evidence"
	"github.com/dkurien/fodpipe/internal/store"
)

// Runner executes one CLI invocation. Stdout/Stderr default to the
// process streams; tests inject buffers. Extractor defaults to the
// gocv-backed implementation.
type Runner struct {
	Version   string
	Stdout    io.Writer
	Stderr    io.Writer
	Extractor evidence.Extractor
}

// Run dispatches args (without the program name) and returns the
// process exit code: 0 on success, 1 on failure, 2 on usage errors.
func (r Runner) Run(args []string) int {
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
	if r.Stderr == nil {
		r.Stderr = os.Stderr
	}

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printRootHelp(r.Stdout)
		return 0
	}

	switch args[0] {
	case "events":
		return r.runEvents(args[1:])
	case "evidence":
		return r.runEvidence(args[1:])
	case "pack":
		return r.runPack(args[1:])
	case "verify":
		return r.runVerify(args[1:])
	case "runs":
		return r.runRuns(args[1:])
	case "version":
		fmt.Fprintf(r.Stdout, "%s\n", r.Version)
		return 0
	default:
		fmt.Fprintf(r.Stderr, "unknown command %q\n", args[0])
		printRootHelp(r.Stderr)
		return 2
	}
}

func printRootHelp(w io.Writer) {
	fmt.Fprint(w, `fodpipe - video event pipeline

Usage:
  fodpipe events   --stream detections.jsonl [flags]   aggregate detections into events
  fodpipe evidence --events events.json [flags]        materialize per-event evidence
  fodpipe pack     [flags]                             assemble and seal the evidence pack
  fodpipe verify   --archive pack.zip [flags]          verify an archive against its digest
  fodpipe runs     [flags]                             list cataloged runs
  fodpipe version                                      print the version

Run any command with --help for its flags.
`)
}

func (r Runner) failUsage(fs *flag.FlagSet, msg string) int {
	fmt.Fprintln(r.Stderr, msg)
	fs.SetOutput(r.Stderr)
	fs.PrintDefaults()
	return 2
}

func (r Runner) fail(err error) int {
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return 1
}

// loadConfig builds the effective configuration for a parsed flag set:
// defaults, config file, environment, then explicitly set flags.
func loadConfig(fs *flag.FlagSet, configPath string, apply func(cfg *config.Config, name string)) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		apply(&cfg, f.Name)
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// recordRun writes a run and its optional event rows to the catalog
// and returns the run id.
func recordRun(dbPath string, run *store.Run, rows []evidence.IndexRow) (string, error) {
	s, err := store.New(dbPath)
	if err != nil {
		return "", fmt.Errorf("open catalog: %w", err)
	}
	defer s.Close()

	repo := s.Runs()
	if err := repo.Create(run); err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	if len(rows) > 0 {
		if err := repo.AddEvents(run.ID, rows); err != nil {
			return "", fmt.Errorf("record events: %w", err)
		}
	}
	return run.ID, nil
}
