package cli

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dkurien/fodpipe/internal/config"
	"github.com/dkurien/fodpipe/internal/evidence"
	"github.com/dkurien/fodpipe/internal/pack"
	"github.com/dkurien/fodpipe/internal/store"
)

func (r Runner) runPack(args []string) int {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		workDir    = fs.String("work", "", "working output directory from an evidence run (default <evidence_dir>/output)")
		packDir    = fs.String("pack-dir", "", "pack tree directory (default <evidence_dir>/pack)")
		zipPath    = fs.String("archive", "", "archive path (default <evidence_dir>/evidence_pack.zip)")
		configPath = fs.String("config", "", "YAML config path")
		dbPath     = fs.String("db", "", "run catalog database path")
		help       = fs.Bool("help", false, "show help")
	)
	if err := fs.Parse(args); err != nil {
		return r.failUsage(fs, "pack: invalid flags")
	}
	if *help {
		fs.SetOutput(r.Stdout)
		fs.PrintDefaults()
		return 0
	}

	cfg, err := loadConfig(fs, *configPath, func(c *config.Config, name string) {
		if name == "db" {
			c.DBPath = *dbPath
		}
	})
	if err != nil {
		return r.fail(err)
	}

	workRoot := *workDir
	if workRoot == "" {
		workRoot = filepath.Join(cfg.EvidenceDir, "output")
	}
	packRoot := *packDir
	if packRoot == "" {
		packRoot = filepath.Join(cfg.EvidenceDir, "pack")
	}
	archive := *zipPath
	if archive == "" {
		archive = filepath.Join(cfg.EvidenceDir, "evidence_pack.zip")
	}

	artifacts, err := evidence.ReadManifest(filepath.Join(workRoot, evidence.ManifestName))
	if err != nil {
		return r.fail(err)
	}

	rows, err := pack.Build(workRoot, packRoot, artifacts)
	if err != nil {
		return r.fail(err)
	}
	if err := pack.Seal(packRoot, archive); err != nil {
		return r.fail(err)
	}
	digest, err := pack.WriteDigest(archive)
	if err != nil {
		return r.fail(err)
	}

	if _, err := recordRun(cfg.DBPath, &store.Run{
		Kind:          store.RunKindEvidence,
		Video:         rows[0].Video,
		EventCount:    len(rows),
		ArchiveDigest: digest,
	}, rows); err != nil {
		return r.fail(err)
	}

	fmt.Fprintf(r.Stdout, "index validation PASS: %d/%d rows resolved\n", len(rows), len(rows))
	fmt.Fprintf(r.Stdout, "archive: %s\n", archive)
	fmt.Fprintf(r.Stdout, "sha256: %s\n", digest)
	return 0
}

func (r Runner) runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		zipPath    = fs.String("archive", "", "archive path")
		digestPath = fs.String("digest", "", "digest file path (default <archive>.sha256)")
		help       = fs.Bool("help", false, "show help")
	)
	if err := fs.Parse(args); err != nil {
		return r.failUsage(fs, "verify: invalid flags")
	}
	if *help {
		fs.SetOutput(r.Stdout)
		fs.PrintDefaults()
		return 0
	}
	if *zipPath == "" {
		return r.failUsage(fs, "verify: --archive is required")
	}

	dp := *digestPath
	if dp == "" {
		dp = pack.DigestPath(*zipPath)
	}

	digest, err := pack.Verify(*zipPath, dp)
	if err != nil {
		return r.fail(err)
	}

	fmt.Fprintf(r.Stdout, "verify PASS: %s\n", digest)
	return 0
}
