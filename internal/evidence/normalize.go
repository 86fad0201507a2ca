// Package evidence validates, normalizes, and materializes event
// records into reviewable artifacts: a clip, a snapshot, and a bbox
// overlay per event, plus an index over all of them.
//
// Input flexibility (field aliases, bbox conventions, loose timing) is
// absorbed here in a single normalization pass that produces one
// canonical Record per event; everything downstream consumes Records
// only.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dkurien/fodpipe/internal/geom"
)

// Defaults applied when an optional field is absent after alias
// resolution.
const (
	DefaultClassName = "unknown"
	DefaultROIID     = "unknown_roi"
)

// ErrNoEventList is returned when the interchange file is neither a
// list nor a mapping containing exactly one list.
var ErrNoEventList = errors.New("events file must be a list or a mapping containing exactly one list")

// Record is the canonical, validated form of one interchange event.
type Record struct {
	EventID       string
	VideoFilename string
	ClassName     string
	ROIID         string
	StartTimeS    float64
	EndTimeS      float64
	RepFrame      *int     // nil when the source carried no frame hint
	MaxConfidence *float64 // nil when the source carried no confidence
	RawBBox       [4]float64
	RawBBoxField  string // which alias supplied the bbox
	FrameW        int
	FrameH        int
}

// rawEvent tolerates every alias the interchange contract admits.
type rawEvent struct {
	EventID      *string   `json:"event_id"`
	ID           *string   `json:"id"`
	Video        *string   `json:"video_filename"`
	VideoAlt     *string   `json:"video"`
	SourceVideo  *string   `json:"source_video"`
	ClassName    *string   `json:"class_name"`
	Label        *string   `json:"label"`
	ROIID        *string   `json:"roi_id"`
	ROI          *string   `json:"roi"`
	StartTimeS   *float64  `json:"start_time_s"`
	EndTimeS     *float64  `json:"end_time_s"`
	TimeS        *float64  `json:"time_s"`
	TriggerTimeS *float64  `json:"trigger_time_s"`
	RepFrame     *int      `json:"rep_frame"`
	TriggerFrame *int      `json:"trigger_frame"`
	MaxConf      *float64  `json:"max_confidence"`
	RepBBox      []float64 `json:"representative_bbox"`
	BBox         []float64 `json:"bbox"`
	FrameW       *int      `json:"frame_w"`
	FrameH       *int      `json:"frame_h"`
}

// LoadEvents reads the interchange file and returns the raw event
// records in input order. The file may be a bare list or a mapping
// holding exactly one list value.
func LoadEvents(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events file: %w", err)
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(data, &asList); err == nil {
		return asList, nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, fmt.Errorf("parse events file %s: %w", path, err)
	}
	var found []json.RawMessage
	lists := 0
	for _, v := range asMap {
		var inner []json.RawMessage
		if err := json.Unmarshal(v, &inner); err == nil {
			lists++
			found = inner
		}
	}
	if lists != 1 {
		return nil, fmt.Errorf("%w: found %d lists in %s", ErrNoEventList, lists, path)
	}
	return found, nil
}

// Normalize resolves aliases and validates one raw event. idx is the
// zero-based input position, used for deterministic auto ids and error
// context. frameW/frameH are the canonical full-frame dimensions and
// may be overridden per event.
func Normalize(raw json.RawMessage, idx, frameW, frameH int) (Record, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Record{}, fmt.Errorf("event %d: malformed record: %w", idx+1, err)
	}

	rec := Record{
		EventID:   firstString(ev.EventID, ev.ID),
		ClassName: firstString(ev.ClassName, ev.Label),
		ROIID:     firstString(ev.ROIID, ev.ROI),
		FrameW:    frameW,
		FrameH:    frameH,
	}
	if rec.EventID == "" {
		rec.EventID = fmt.Sprintf("ev_%04d", idx+1)
	}
	if rec.ClassName == "" {
		rec.ClassName = DefaultClassName
	}
	if rec.ROIID == "" {
		rec.ROIID = DefaultROIID
	}
	if ev.FrameW != nil && *ev.FrameW > 0 {
		rec.FrameW = *ev.FrameW
	}
	if ev.FrameH != nil && *ev.FrameH > 0 {
		rec.FrameH = *ev.FrameH
	}

	rec.VideoFilename = firstString(ev.Video, ev.VideoAlt, ev.SourceVideo)
	if rec.VideoFilename == "" {
		return Record{}, fmt.Errorf("%s: missing video_filename", rec.EventID)
	}

	// Timing: explicit pair, or a single instant treated as start==end.
	switch {
	case ev.StartTimeS != nil && ev.EndTimeS != nil:
		rec.StartTimeS = *ev.StartTimeS
		rec.EndTimeS = *ev.EndTimeS
	case ev.TimeS != nil:
		rec.StartTimeS = *ev.TimeS
		rec.EndTimeS = *ev.TimeS
	case ev.TriggerTimeS != nil:
		rec.StartTimeS = *ev.TriggerTimeS
		rec.EndTimeS = *ev.TriggerTimeS
	default:
		return Record{}, fmt.Errorf("%s: missing start_time_s/end_time_s and no fallback instant", rec.EventID)
	}
	if rec.EndTimeS < rec.StartTimeS {
		return Record{}, fmt.Errorf("%s: inverted time range [%.3f, %.3f]", rec.EventID, rec.StartTimeS, rec.EndTimeS)
	}

	if ev.RepFrame != nil {
		rec.RepFrame = ev.RepFrame
	} else if ev.TriggerFrame != nil {
		rec.RepFrame = ev.TriggerFrame
	}
	rec.MaxConfidence = ev.MaxConf

	bbox, field := ev.RepBBox, "representative_bbox"
	if bbox == nil {
		bbox, field = ev.BBox, "bbox"
	}
	if len(bbox) != 4 {
		return Record{}, fmt.Errorf("%s: missing or malformed bbox (want 4 values, got %d)", rec.EventID, len(bbox))
	}
	copy(rec.RawBBox[:], bbox)
	rec.RawBBoxField = field

	return rec, nil
}

// NormalizeAll normalizes every raw event, deduplicates by event id
// (first occurrence wins), and resolves each bbox. Any failure fails
// the whole batch.
func NormalizeAll(raws []json.RawMessage, frameW, frameH int) ([]Record, []geom.Resolution, error) {
	records := make([]Record, 0, len(raws))
	resolutions := make([]geom.Resolution, 0, len(raws))
	seen := make(map[string]bool, len(raws))

	for i, raw := range raws {
		rec, err := Normalize(raw, i, frameW, frameH)
		if err != nil {
			return nil, nil, err
		}
		if seen[rec.EventID] {
			continue
		}
		seen[rec.EventID] = true

		res, err := geom.Resolve(rec.RawBBox, rec.FrameW, rec.FrameH)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", rec.EventID, err)
		}
		records = append(records, rec)
		resolutions = append(resolutions, res)
	}
	return records, resolutions, nil
}

func firstString(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}
