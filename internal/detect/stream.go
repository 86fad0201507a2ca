// Package detect defines the per-frame detection records the event
// aggregator consumes and a reader for the detections.jsonl
// interchange produced by the offline inference stage.
package detect

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/dkurien/fodpipe/internal/geom"
)

// Detection is one detector hit in one frame. Coordinates are pixel
// xyxy in the native frame; inference-space boxes must already be
// mapped back by the detector adapter.
type Detection struct {
	ClassName  string
	Confidence float64
	BBox       geom.Rect
}

// Frame is one frame's worth of detections plus the timestamp the
// aggregator orders on.
type Frame struct {
	Index      int
	TimestampS float64
	Detections []Detection
}

// StreamMeta is per-run metadata carried on the first frame record of
// a detections.jsonl file.
type StreamMeta struct {
	VideoFilename string
	Width         int
	Height        int
	FPS           float64
	FPSSource     string
}

// ErrMissingMeta is returned when the stream ends without ever
// carrying video filename and frame size.
var ErrMissingMeta = errors.New("detection stream missing first-frame metadata")

// frameRecord mirrors one detections.jsonl line.
type frameRecord struct {
	FrameIndex *int        `json:"frame_index"`
	TimestampS *float64    `json:"timestamp_s"`
	Detections []detRecord `json:"detections"`
	Video      *string     `json:"video_filename"`
	Width      *int        `json:"width"`
	Height     *int        `json:"height"`
	FPSUsed    *float64    `json:"fps_used_for_timestamps"`
	FPSRep     *float64    `json:"fps_reported"`
	RawCount   *int        `json:"raw_detections_in_frame"`
}

type detRecord struct {
	ClassName  *string  `json:"class_name"`
	Confidence *float64 `json:"confidence"`
	X1         *float64 `json:"x1"`
	Y1         *float64 `json:"y1"`
	X2         *float64 `json:"x2"`
	Y2         *float64 `json:"y2"`
}

// Counters tallies what the reader saw, for metrics and zero-event
// diagnostics.
type Counters struct {
	Frames         int
	RawDetections  int
	Detections     int
	SkippedLines   int
	SkippedRecords int
}

// Reader decodes a detections.jsonl stream frame by frame. Malformed
// lines and malformed detection entries are skipped with a warning
// rather than failing the run.
type Reader struct {
	scan     *bufio.Scanner
	lineNo   int
	meta     StreamMeta
	counters Counters
}

// NewReader wraps r. The buffer allows long lines for frames dense
// with detections.
func NewReader(r io.Reader) *Reader {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scan: scan}
}

// Meta returns the stream metadata seen so far. Complete only after
// the first well-formed frame carrying it has been read.
func (r *Reader) Meta() StreamMeta { return r.meta }

// Counters returns the running tallies.
func (r *Reader) Counters() Counters { return r.counters }

// Next returns the next frame, or io.EOF at end of stream.
func (r *Reader) Next() (*Frame, error) {
	for r.scan.Scan() {
		r.lineNo++
		line := r.scan.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec frameRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Printf("WARN: detections line %d: invalid JSON, skipping: %v", r.lineNo, err)
			r.counters.SkippedLines++
			continue
		}
		if rec.FrameIndex == nil || rec.TimestampS == nil {
			log.Printf("WARN: detections line %d: missing frame_index/timestamp_s, skipping", r.lineNo)
			r.counters.SkippedLines++
			continue
		}

		r.absorbMeta(&rec)
		r.counters.Frames++
		if rec.RawCount != nil {
			r.counters.RawDetections += *rec.RawCount
		}

		frame := &Frame{
			Index:      *rec.FrameIndex,
			TimestampS: *rec.TimestampS,
		}
		for i, d := range rec.Detections {
			if d.ClassName == nil || d.Confidence == nil ||
				d.X1 == nil || d.Y1 == nil || d.X2 == nil || d.Y2 == nil {
				log.Printf("WARN: detections line %d: entry %d missing required fields, skipping", r.lineNo, i)
				r.counters.SkippedRecords++
				continue
			}
			frame.Detections = append(frame.Detections, Detection{
				ClassName:  *d.ClassName,
				Confidence: *d.Confidence,
				BBox:       geom.Rect{X1: *d.X1, Y1: *d.Y1, X2: *d.X2, Y2: *d.Y2},
			})
			r.counters.Detections++
		}
		return frame, nil
	}

	if err := r.scan.Err(); err != nil {
		return nil, fmt.Errorf("read detections stream: %w", err)
	}
	return nil, io.EOF
}

func (r *Reader) absorbMeta(rec *frameRecord) {
	if r.meta.VideoFilename == "" && rec.Video != nil {
		r.meta.VideoFilename = *rec.Video
	}
	if r.meta.Width == 0 && rec.Width != nil {
		r.meta.Width = *rec.Width
	}
	if r.meta.Height == 0 && rec.Height != nil {
		r.meta.Height = *rec.Height
	}
	if r.meta.FPS == 0 {
		// fps_used_for_timestamps wins over fps_reported.
		if rec.FPSUsed != nil {
			r.meta.FPS = *rec.FPSUsed
			r.meta.FPSSource = "fps_used_for_timestamps"
		} else if rec.FPSRep != nil {
			r.meta.FPS = *rec.FPSRep
			r.meta.FPSSource = "fps_reported"
		}
	}
}

// RequireMeta validates that the stream carried the metadata the
// aggregator needs.
func (r *Reader) RequireMeta() error {
	if r.meta.VideoFilename == "" || r.meta.Width == 0 || r.meta.Height == 0 {
		return ErrMissingMeta
	}
	return nil
}
