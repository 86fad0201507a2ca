package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dkurien/fodpipe/internal/config"
	"github.com/dkurien/fodpipe/internal/evidence"
	"github.com/dkurien/fodpipe/internal/store"
)

func (r Runner) runEvidence(args []string) int {
	fs := flag.NewFlagSet("evidence", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var videoDirs stringList
	var (
		eventsPath = fs.String("events", "", "event interchange JSON path")
		outDir     = fs.String("out", "", "working output directory (default <evidence_dir>/output)")
		configPath = fs.String("config", "", "YAML config path")
		dbPath     = fs.String("db", "", "run catalog database path")
		frameW     = fs.Int("frame-w", 0, "canonical frame width")
		frameH     = fs.Int("frame-h", 0, "canonical frame height")
		padBefore  = fs.Float64("pad-before", 0, "clip padding before the event in seconds")
		padAfter   = fs.Float64("pad-after", 0, "clip padding after the event in seconds")
		workers    = fs.Int("workers", 0, "artifact generation workers")
		timeout    = fs.Duration("timeout", 0, "per-event artifact timeout (0 disables)")
		help       = fs.Bool("help", false, "show help")
	)
	fs.Var(&videoDirs, "video-dir", "candidate video directory (repeatable)")

	if err := fs.Parse(args); err != nil {
		return r.failUsage(fs, "evidence: invalid flags")
	}
	if *help {
		fs.SetOutput(r.Stdout)
		fs.PrintDefaults()
		return 0
	}
	if *eventsPath == "" {
		return r.failUsage(fs, "evidence: --events is required")
	}

	cfg, err := loadConfig(fs, *configPath, func(c *config.Config, name string) {
		switch name {
		case "frame-w":
			c.FrameW = *frameW
		case "frame-h":
			c.FrameH = *frameH
		case "pad-before":
			c.PadBeforeS = *padBefore
		case "pad-after":
			c.PadAfterS = *padAfter
		case "workers":
			c.Workers = *workers
		case "video-dir":
			c.VideoDirs = videoDirs
		case "db":
			c.DBPath = *dbPath
		}
	})
	if err != nil {
		return r.fail(err)
	}
	if len(cfg.VideoDirs) == 0 {
		return r.failUsage(fs, "evidence: --video-dir is required")
	}

	workRoot := *outDir
	if workRoot == "" {
		workRoot = filepath.Join(cfg.EvidenceDir, "output")
	}

	raws, err := evidence.LoadEvents(*eventsPath)
	if err != nil {
		return r.fail(err)
	}
	records, resolutions, err := evidence.NormalizeAll(raws, cfg.FrameW, cfg.FrameH)
	if err != nil {
		return r.fail(err)
	}
	if len(records) == 0 {
		return r.fail(fmt.Errorf("no events in %s", *eventsPath))
	}

	ext := r.Extractor
	if ext == nil {
		ext = evidence.NewGoCVExtractor()
	}
	builder := evidence.NewBuilder(evidence.Options{
		VideoDirs:       cfg.VideoDirs,
		OutDir:          workRoot,
		FrameW:          cfg.FrameW,
		FrameH:          cfg.FrameH,
		PadBeforeS:      cfg.PadBeforeS,
		PadAfterS:       cfg.PadAfterS,
		Workers:         cfg.Workers,
		PerEventTimeout: *timeout,
	}, ext)

	artifacts, err := builder.Run(context.Background(), records, resolutions)
	if err != nil {
		return r.fail(err)
	}

	rows := make([]evidence.IndexRow, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, a.Row())
	}
	if err := evidence.WriteIndex(filepath.Join(workRoot, "index.csv"), rows); err != nil {
		return r.fail(err)
	}
	resolved, err := evidence.ValidateIndex(workRoot, rows)
	if err != nil {
		return r.fail(err)
	}
	if err := evidence.WriteManifest(filepath.Join(workRoot, evidence.ManifestName), artifacts); err != nil {
		return r.fail(err)
	}

	if _, err := recordRun(cfg.DBPath, &store.Run{
		Kind:       store.RunKindEvidence,
		Video:      records[0].VideoFilename,
		EventCount: len(rows),
	}, rows); err != nil {
		return r.fail(err)
	}

	fmt.Fprintf(r.Stdout, "index validation PASS: %d/%d rows resolved\n", resolved, len(rows))
	fmt.Fprintf(r.Stdout, "evidence written to %s\n", workRoot)
	return 0
}
