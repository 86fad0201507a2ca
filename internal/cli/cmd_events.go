package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dkurien/fodpipe/internal/config"
	"github.com/dkurien/fodpipe/internal/detect"
	"github.com/dkurien/fodpipe/internal/event"
	"github.com/dkurien/fodpipe/internal/roi"
	"github.com/dkurien/fodpipe/internal/store"
)

func (r Runner) runEvents(args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		runFolder   = fs.String("run-folder", "", "folder holding detections.jsonl and optional roi.json")
		stream      = fs.String("stream", "", "detections.jsonl path (overrides --run-folder)")
		roiPath     = fs.String("roi", "", "ROI polygon JSON path")
		outDir      = fs.String("out", "output", "directory for events.json, events.csv, metrics.json")
		video       = fs.String("video", "", "video filename override")
		configPath  = fs.String("config", "", "YAML config path")
		dbPath      = fs.String("db", "", "run catalog database path")
		conf        = fs.Float64("conf", 0, "minimum detection confidence")
		minArea     = fs.Float64("min-area", 0, "minimum bbox area in px^2")
		confirmN    = fs.Int("confirm-n", 0, "qualifying hits to open an event")
		endMissM    = fs.Int("end-miss-m", 0, "misses to close or discard a run")
		minEventDur = fs.Float64("min-event-dur", 0, "minimum confirmed event duration in seconds")
		cooldown    = fs.Float64("cooldown", 0, "quiet seconds after close before reopening")
		frameW      = fs.Int("frame-w", 0, "frame width override")
		frameH      = fs.Int("frame-h", 0, "frame height override")
		help        = fs.Bool("help", false, "show help")
	)
	if err := fs.Parse(args); err != nil {
		return r.failUsage(fs, "events: invalid flags")
	}
	if *help {
		fs.SetOutput(r.Stdout)
		fs.PrintDefaults()
		return 0
	}

	cfg, err := loadConfig(fs, *configPath, func(c *config.Config, name string) {
		switch name {
		case "conf":
			c.ConfThreshold = *conf
		case "min-area":
			c.MinArea = *minArea
		case "confirm-n":
			c.ConfirmN = *confirmN
		case "end-miss-m":
			c.EndMissM = *endMissM
		case "min-event-dur":
			c.MinEventDurS = *minEventDur
		case "cooldown":
			c.CooldownS = *cooldown
		case "frame-w":
			c.FrameW = *frameW
		case "frame-h":
			c.FrameH = *frameH
		case "db":
			c.DBPath = *dbPath
		}
	})
	if err != nil {
		return r.fail(err)
	}
	frameOverride := flagWasSet(fs, "frame-w") || flagWasSet(fs, "frame-h")

	streamPath := *stream
	if streamPath == "" && *runFolder != "" {
		streamPath = filepath.Join(*runFolder, "detections.jsonl")
	}
	if streamPath == "" {
		return r.failUsage(fs, "events: --stream or --run-folder is required")
	}
	gatePath := *roiPath
	if gatePath == "" && *runFolder != "" {
		p := filepath.Join(*runFolder, "roi.json")
		if _, err := os.Stat(p); err == nil {
			gatePath = p
		}
	}

	var gate *roi.ROI
	if gatePath != "" {
		gate, err = roi.Load(gatePath)
		if err != nil {
			return r.fail(err)
		}
	}

	params := event.Params{
		ConfThreshold: cfg.ConfThreshold,
		MinArea:       cfg.MinArea,
		ConfirmN:      cfg.ConfirmN,
		EndMissM:      cfg.EndMissM,
		MinEventDurS:  cfg.MinEventDurS,
		CooldownS:     cfg.CooldownS,
	}

	f, err := os.Open(streamPath)
	if err != nil {
		return r.fail(fmt.Errorf("open stream: %w", err))
	}
	defer f.Close()
	reader := detect.NewReader(f)

	var agg *event.Aggregator
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(err)
		}
		if agg == nil {
			if err := reader.RequireMeta(); err != nil {
				return r.fail(err)
			}
			meta := reader.Meta()
			videoName := meta.VideoFilename
			if *video != "" {
				videoName = *video
			}
			w, h := meta.Width, meta.Height
			if frameOverride {
				w, h = cfg.FrameW, cfg.FrameH
			}
			if gate == nil {
				gate = fullFrameROI(w, h)
			}
			agg, err = event.NewAggregator(params, gate, videoName, w, h)
			if err != nil {
				return r.fail(err)
			}
		}
		if err := agg.ObserveFrame(frame); err != nil {
			return r.fail(err)
		}
	}

	events := []event.Event{}
	var stats event.Stats
	if agg != nil {
		events = agg.Finish()
		stats = agg.Stats()
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return r.fail(err)
	}
	if err := event.WriteJSON(filepath.Join(*outDir, "events.json"), events); err != nil {
		return r.fail(err)
	}
	if err := event.WriteCSV(filepath.Join(*outDir, "events.csv"), events); err != nil {
		return r.fail(err)
	}
	metrics := event.BuildMetrics(reader.Meta(), reader.Counters(), stats, params, events)
	if err := event.WriteMetrics(filepath.Join(*outDir, "metrics.json"), metrics); err != nil {
		return r.fail(err)
	}

	videoName := reader.Meta().VideoFilename
	if *video != "" {
		videoName = *video
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return r.fail(err)
	}
	if _, err := recordRun(cfg.DBPath, &store.Run{
		Kind:       store.RunKindEvents,
		Video:      videoName,
		ParamsJSON: string(paramsJSON),
		EventCount: len(events),
	}, nil); err != nil {
		return r.fail(err)
	}

	fmt.Fprintf(r.Stdout, "events: %d confirmed, written to %s\n", len(events), *outDir)
	return 0
}

// fullFrameROI gates nothing: every in-frame center passes.
func fullFrameROI(w, h int) *roi.ROI {
	fw, fh := float64(w), float64(h)
	return &roi.ROI{
		ID: "full_frame",
		Polygon: []roi.Point{
			{X: -1, Y: -1}, {X: fw + 1, Y: -1},
			{X: fw + 1, Y: fh + 1}, {X: -1, Y: fh + 1},
		},
	}
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
