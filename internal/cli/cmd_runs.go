package cli

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dkurien/fodpipe/internal/config"
	"github.com/dkurien/fodpipe/internal/store"
)

func (r Runner) runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath = fs.String("config", "", "YAML config path")
		dbPath     = fs.String("db", "", "run catalog database path")
		showEvents = fs.Bool("events", false, "list recorded events instead of runs")
		help       = fs.Bool("help", false, "show help")
	)
	if err := fs.Parse(args); err != nil {
		return r.failUsage(fs, "runs: invalid flags")
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

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return r.fail(err)
	}
	defer s.Close()

	if *showEvents {
		return r.printAllEvents(s)
	}

	runs, err := s.Runs().List()
	if err != nil {
		return r.fail(err)
	}

	tw := tabwriter.NewWriter(r.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tVIDEO\tEVENTS\tDIGEST\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shorten(run.ID, 8), run.Kind, run.Video, run.EventCount,
			shorten(run.ArchiveDigest, 12),
			run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return exitFlush(r, tw)
}

func (r Runner) printAllEvents(s *store.Store) int {
	rows, err := s.Runs().AllEvents()
	if err != nil {
		return r.fail(err)
	}

	tw := tabwriter.NewWriter(r.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tVIDEO\tCLASS\tROI\tSTART\tEND")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3f\t%.3f\n",
			row.EventID, row.Video, row.Class, row.ROIID, row.StartTimeS, row.EndTimeS)
	}
	return exitFlush(r, tw)
}

func exitFlush(r Runner, tw *tabwriter.Writer) int {
	if err := tw.Flush(); err != nil {
		return r.fail(err)
	}
	return 0
}

func shorten(s string, n int) string {
	if s == "" {
		return "-"
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}
