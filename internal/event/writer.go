package event

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// csvHeader is the stable events.csv column order.
var csvHeader = []string{
	"video_filename", "event_id", "class_name",
	"start_time_s", "end_time_s", "duration_s",
	"max_confidence", "representative_bbox", "rep_frame", "roi_id",
}

// WriteJSON writes the event list as indented JSON. An empty list
// serializes as [] rather than null.
func WriteJSON(path string, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

// WriteCSV writes the event list with a stable column order and
// 6-decimal time formatting.
func WriteCSV(path string, events []Event) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, ev := range events {
		bbox := ""
		if len(ev.RepresentativeBBox) == 4 {
			bbox = fmt.Sprintf("%g,%g,%g,%g",
				ev.RepresentativeBBox[0], ev.RepresentativeBBox[1],
				ev.RepresentativeBBox[2], ev.RepresentativeBBox[3])
		}
		row := []string{
			ev.VideoFilename,
			ev.EventID,
			ev.ClassName,
			strconv.FormatFloat(ev.StartTimeS, 'f', 6, 64),
			strconv.FormatFloat(ev.EndTimeS, 'f', 6, 64),
			strconv.FormatFloat(ev.DurationS, 'f', 6, 64),
			strconv.FormatFloat(ev.MaxConfidence, 'f', 6, 64),
			bbox,
			strconv.Itoa(ev.RepFrame),
			ev.ROIID,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write events csv: %w", err)
	}
	return writeFile(path, buf.Bytes())
}

// ReadJSON loads an events.json produced by WriteJSON (or authored by
// hand in the same schema).
func ReadJSON(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events file: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse events file %s: %w", path, err)
	}
	return events, nil
}

func writeFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
