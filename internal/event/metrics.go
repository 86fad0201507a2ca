package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkurien/fodpipe/internal/detect"
)

// Metrics is the self-contained run summary written next to the event
// list so a run can be audited without shell history.
type Metrics struct {
	VideoFilename string   `json:"video_filename"`
	FrameSize     [2]int   `json:"frame_size"`
	TotalFrames   int      `json:"total_frames"`
	DurationS     *float64 `json:"duration_s"`
	FPS           float64  `json:"fps_used_for_timestamps,omitempty"`
	FPSSource     string   `json:"fps_source_key,omitempty"`

	TotalRawDetections     int `json:"total_raw_detections"`
	TotalDecodedDetections int `json:"total_decoded_detections"`
	SkippedLines           int `json:"skipped_lines"`
	SkippedRecords         int `json:"skipped_detection_records"`
	DiscardedByArea        int `json:"discarded_by_area"`
	DiscardedByROI         int `json:"discarded_by_roi"`
	TotalROIPass           int `json:"total_roi_pass_detections"`
	DiscardedByConf        int `json:"discarded_by_conf"`
	TotalROIConfPass       int `json:"total_roi_conf_pass_detections"`

	Tracking struct {
		TracksTotal     int `json:"tracks_total"`
		TracksConfirmed int `json:"tracks_confirmed"`
	} `json:"tracking"`

	TotalEvents     int      `json:"total_events"`
	EventsPerMinute *float64 `json:"proxy_events_per_minute"`

	Params Params `json:"params"`

	// Present only for zero-event runs: enough context to tell noise
	// absorption apart from a pipeline fault.
	NoEventDiagnostics *NoEventDiagnostics `json:"no_event_diagnostics,omitempty"`
}

// NoEventDiagnostics explains a zero-event run.
type NoEventDiagnostics struct {
	ROIConfPassDetections int            `json:"total_roi_conf_pass_detections"`
	MaxHitsOverRuns       int            `json:"max_hits_over_runs"`
	NoiseRunsDropped      int            `json:"noise_runs_dropped"`
	ShortRunsDropped      int            `json:"short_runs_dropped"`
	TopPassByConfidence   []TopDetection `json:"top_roi_conf_detections_by_confidence"`
	PassByClass           map[string]int `json:"roi_conf_pass_by_class"`
	Note                  string         `json:"note"`
}

// BuildMetrics assembles the run summary from the reader tallies and
// the aggregator stats.
func BuildMetrics(meta detect.StreamMeta, rc detect.Counters, stats Stats, params Params, events []Event) Metrics {
	m := Metrics{
		VideoFilename:          meta.VideoFilename,
		FrameSize:              [2]int{meta.Width, meta.Height},
		TotalFrames:            rc.Frames,
		FPS:                    meta.FPS,
		FPSSource:              meta.FPSSource,
		TotalRawDetections:     rc.RawDetections,
		TotalDecodedDetections: rc.Detections,
		SkippedLines:           rc.SkippedLines,
		SkippedRecords:         rc.SkippedRecords,
		DiscardedByArea:        stats.DiscardedByArea,
		DiscardedByROI:         stats.DiscardedByROI,
		TotalROIPass:           stats.ROIPass,
		DiscardedByConf:        stats.DiscardedByConf,
		TotalROIConfPass:       stats.ROIConfPass,
		TotalEvents:            len(events),
		Params:                 params,
	}
	m.Tracking.TracksTotal = stats.TracksTotal
	m.Tracking.TracksConfirmed = stats.TracksConfirmed

	if meta.FPS > 0 && rc.Frames > 0 {
		dur := float64(rc.Frames) / meta.FPS
		m.DurationS = &dur
		if dur > 0 {
			epm := float64(len(events)) / (dur / 60.0)
			m.EventsPerMinute = &epm
		}
	}

	if len(events) == 0 {
		m.NoEventDiagnostics = &NoEventDiagnostics{
			ROIConfPassDetections: stats.ROIConfPass,
			MaxHitsOverRuns:       stats.MaxHitsOverRuns,
			NoiseRunsDropped:      stats.NoiseRunsDropped,
			ShortRunsDropped:      stats.ShortRunsDropped,
			TopPassByConfidence:   stats.TopPass,
			PassByClass:           stats.PassByClass,
			Note:                  "0 events is expected when the persistence threshold is never met",
		}
	}
	return m
}

// WriteMetrics writes the run summary as indented JSON.
func WriteMetrics(path string, m Metrics) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return writeFile(path, buf.Bytes())
}
