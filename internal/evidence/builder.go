package evidence

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkurien/fodpipe/internal/geom"
)

// Options configures one assembler run.
type Options struct {
	// VideoDirs are searched in order for each referenced filename.
	VideoDirs []string
	// OutDir is the working output root (clips/, snapshots/, index.csv).
	OutDir string
	// FrameW, FrameH is the canonical full-frame resolution every
	// snapshot must match and every bbox is resolved against.
	FrameW, FrameH int
	// PadBeforeS, PadAfterS widen the clip window around the event.
	PadBeforeS, PadAfterS float64
	// Workers bounds the artifact-generation pool. <= 0 means 1.
	Workers int
	// PerEventTimeout fails a single event's artifact generation when
	// exceeded; zero disables the timeout.
	PerEventTimeout time.Duration
}

// DefaultOptions mirrors the batch evidence policy defaults.
func DefaultOptions() Options {
	return Options{
		FrameW:     1920,
		FrameH:     1080,
		PadBeforeS: 3.0,
		PadAfterS:  3.0,
		Workers:    4,
	}
}

// Artifact is the complete evidence set for one event, with paths
// relative to the working output root.
type Artifact struct {
	Record     Record
	Resolution geom.Resolution
	Audit      Audit
	ClipPath   string
	SnapPath   string
	BBoxPath   string
}

// Builder materializes normalized events into artifacts.
type Builder struct {
	opts Options
	ext  Extractor
}

// NewBuilder wires an extractor into the given options.
func NewBuilder(opts Options, ext Extractor) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Builder{opts: opts, ext: ext}
}

// Run validates and materializes every event. Validation and video
// resolution happen up front and sequentially; artifact generation is
// fanned out across the worker pool. Any failure fails the whole run:
// either every event resolves to a complete artifact set or no usable
// output is reported.
func (b *Builder) Run(ctx context.Context, records []Record, resolutions []geom.Resolution) ([]Artifact, error) {
	if len(records) != len(resolutions) {
		return nil, fmt.Errorf("records/resolutions length mismatch: %d vs %d", len(records), len(resolutions))
	}

	clipsDir := filepath.Join(b.opts.OutDir, "clips")
	snapsDir := filepath.Join(b.opts.OutDir, "snapshots")
	for _, dir := range []string{clipsDir, snapsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	// Resolve every video before generating anything, so a missing
	// file fails fast instead of after minutes of encoding.
	videoPaths := make([]string, len(records))
	durations := make([]float64, len(records))
	durByPath := make(map[string]float64)
	for i, rec := range records {
		path, err := FindVideo(rec.VideoFilename, b.opts.VideoDirs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.EventID, err)
		}
		videoPaths[i] = path
		dur, ok := durByPath[path]
		if !ok {
			dur, err = b.ext.Duration(path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", rec.EventID, err)
			}
			durByPath[path] = dur
		}
		durations[i] = dur
	}

	artifacts := make([]Artifact, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for i := range records {
		g.Go(func() error {
			a, err := b.buildOne(gctx, records[i], resolutions[i], videoPaths[i], durations[i])
			if err != nil {
				return err
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (b *Builder) buildOne(ctx context.Context, rec Record, res geom.Resolution, videoPath string, durS float64) (Artifact, error) {
	if b.opts.PerEventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.PerEventTimeout)
		defer cancel()
	}

	base := artifactBase(rec)
	clipRel := filepath.Join("clips", base+"_clip.mp4")
	snapRel := filepath.Join("snapshots", base+".jpg")
	bboxRel := filepath.Join("snapshots", base+"_bbox.jpg")

	clipStart, clipLen := clipWindow(rec.StartTimeS, rec.EndTimeS, durS, b.opts.PadBeforeS, b.opts.PadAfterS)
	clipAbs := filepath.Join(b.opts.OutDir, clipRel)
	if err := b.ext.Clip(ctx, videoPath, clipStart, clipLen, clipAbs); err != nil {
		return Artifact{}, fmt.Errorf("%s: clip: %w", rec.EventID, err)
	}

	midS := (rec.StartTimeS + rec.EndTimeS) / 2.0
	snapAbs := filepath.Join(b.opts.OutDir, snapRel)
	w, h, err := b.ext.Snapshot(ctx, videoPath, rec.RepFrame, midS, snapAbs)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: snapshot: %w", rec.EventID, err)
	}
	if w != rec.FrameW || h != rec.FrameH {
		return Artifact{}, fmt.Errorf("%s: snapshot is %dx%d, want %dx%d", rec.EventID, w, h, rec.FrameW, rec.FrameH)
	}

	label := fmt.Sprintf("%s (%s)", rec.ClassName, rec.EventID)
	bboxAbs := filepath.Join(b.opts.OutDir, bboxRel)
	if err := b.ext.DrawBBox(ctx, snapAbs, res.Clamped, label, bboxAbs); err != nil {
		return Artifact{}, fmt.Errorf("%s: bbox overlay: %w", rec.EventID, err)
	}

	log.Printf("event %s: artifacts complete (clip %.3fs..%.3fs)", rec.EventID, clipStart, clipStart+clipLen)
	return Artifact{
		Record:     rec,
		Resolution: res,
		Audit:      NewAudit(rec, res),
		ClipPath:   clipRel,
		SnapPath:   snapRel,
		BBoxPath:   bboxRel,
	}, nil
}

// clipWindow widens [startS, endS] by the pads and clamps it to the
// video, never returning a zero-length window.
func clipWindow(startS, endS, durS, padBefore, padAfter float64) (clipStart, clipLen float64) {
	clipStart = math.Max(0, startS-padBefore)
	clipEnd := endS + padAfter
	if durS > 0 {
		clipEnd = math.Min(durS, clipEnd)
	}
	clipLen = math.Max(0.01, clipEnd-clipStart)
	return clipStart, clipLen
}
