// Package event converts a noisy per-frame detection stream into a
// small ordered list of confirmed events via a per-(class, roi)
// confirm/hold/release state machine.
package event

import (
	"fmt"
	"sort"
)

// Event is one temporally bounded, confirmed sighting of a class
// within a region of interest. Immutable once serialized.
type Event struct {
	EventID            string    `json:"event_id"`
	VideoFilename      string    `json:"video_filename"`
	ClassName          string    `json:"class_name"`
	ROIID              string    `json:"roi_id"`
	StartTimeS         float64   `json:"start_time_s"`
	EndTimeS           float64   `json:"end_time_s"`
	DurationS          float64   `json:"duration_s"`
	MaxConfidence      float64   `json:"max_confidence"`
	RepresentativeBBox []float64 `json:"representative_bbox"`
	RepFrame           int       `json:"rep_frame"`
	FrameW             int       `json:"frame_w"`
	FrameH             int       `json:"frame_h"`
}

// Finalize sorts events deterministically and assigns sequential ids.
// Order is start time, then class, then roi; identical inputs always
// produce the identical list.
func Finalize(events []Event) []Event {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.StartTimeS != b.StartTimeS {
			return a.StartTimeS < b.StartTimeS
		}
		if a.ClassName != b.ClassName {
			return a.ClassName < b.ClassName
		}
		return a.ROIID < b.ROIID
	})
	for i := range events {
		events[i].EventID = fmt.Sprintf("ev_%04d", i+1)
	}
	return events
}
