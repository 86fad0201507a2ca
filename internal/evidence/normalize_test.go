package evidence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dkurien/fodpipe/internal/geom"
)

func writeEvents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEvents_BareList(t *testing.T) {
	path := writeEvents(t, `[{"event_id": "a"}, {"event_id": "b"}]`)
	raws, err := LoadEvents(path)
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(raws) != 2 {
		t.Errorf("got %d records, want 2", len(raws))
	}
}

func TestLoadEvents_MappingWithOneList(t *testing.T) {
	path := writeEvents(t, `{"generated_by": "tool", "events": [{"event_id": "a"}]}`)
	raws, err := LoadEvents(path)
	if err != nil {
		t.Fatalf("LoadEvents() error = %v", err)
	}
	if len(raws) != 1 {
		t.Errorf("got %d records, want 1", len(raws))
	}
}

func TestLoadEvents_MappingWithTwoLists(t *testing.T) {
	path := writeEvents(t, `{"a": [1], "b": [2]}`)
	if _, err := LoadEvents(path); !errors.Is(err, ErrNoEventList) {
		t.Errorf("error = %v, want ErrNoEventList", err)
	}
}

func TestLoadEvents_MappingWithNoList(t *testing.T) {
	path := writeEvents(t, `{"a": 1}`)
	if _, err := LoadEvents(path); !errors.Is(err, ErrNoEventList) {
		t.Errorf("error = %v, want ErrNoEventList", err)
	}
}

func normalizeOne(t *testing.T, body string) (Record, error) {
	t.Helper()
	return Normalize(json.RawMessage(body), 0, 1920, 1080)
}

func TestNormalize_PreferredKeys(t *testing.T) {
	rec, err := normalizeOne(t, `{
		"event_id": "ev_0007",
		"video_filename": "run.mp4",
		"class_name": "cup",
		"roi_id": "roi_a",
		"start_time_s": 1.0,
		"end_time_s": 2.0,
		"rep_frame": 33,
		"representative_bbox": [0.1, 0.1, 0.2, 0.2]
	}`)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.EventID != "ev_0007" || rec.VideoFilename != "run.mp4" ||
		rec.ClassName != "cup" || rec.ROIID != "roi_a" {
		t.Errorf("record = %+v", rec)
	}
	if rec.RepFrame == nil || *rec.RepFrame != 33 {
		t.Errorf("RepFrame = %v, want 33", rec.RepFrame)
	}
	if rec.RawBBoxField != "representative_bbox" {
		t.Errorf("RawBBoxField = %q", rec.RawBBoxField)
	}
}

func TestNormalize_Aliases(t *testing.T) {
	rec, err := normalizeOne(t, `{
		"id": "e1",
		"video": "clip.mp4",
		"label": "person",
		"roi": "gate",
		"time_s": 4.5,
		"trigger_frame": 9,
		"bbox": [10, 10, 50, 50]
	}`)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.EventID != "e1" || rec.VideoFilename != "clip.mp4" ||
		rec.ClassName != "person" || rec.ROIID != "gate" {
		t.Errorf("record = %+v", rec)
	}
	// A single instant resolves to start == end.
	if rec.StartTimeS != 4.5 || rec.EndTimeS != 4.5 {
		t.Errorf("times = [%v, %v], want [4.5, 4.5]", rec.StartTimeS, rec.EndTimeS)
	}
	if rec.RepFrame == nil || *rec.RepFrame != 9 {
		t.Errorf("RepFrame = %v, want 9 via trigger_frame", rec.RepFrame)
	}
	if rec.RawBBoxField != "bbox" {
		t.Errorf("RawBBoxField = %q, want bbox", rec.RawBBoxField)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	rec, err := normalizeOne(t, `{
		"source_video": "v.mp4",
		"start_time_s": 0, "end_time_s": 1,
		"representative_bbox": [0, 0, 100, 100]
	}`)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.EventID != "ev_0001" {
		t.Errorf("EventID = %q, want deterministic ev_0001", rec.EventID)
	}
	if rec.ClassName != DefaultClassName {
		t.Errorf("ClassName = %q, want %q", rec.ClassName, DefaultClassName)
	}
	if rec.ROIID != DefaultROIID {
		t.Errorf("ROIID = %q, want %q", rec.ROIID, DefaultROIID)
	}
	if rec.RepFrame != nil {
		t.Errorf("RepFrame = %v, want nil", rec.RepFrame)
	}
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing video", `{"event_id": "x", "start_time_s": 0, "end_time_s": 1, "bbox": [0,0,1,1]}`},
		{"missing timing", `{"event_id": "x", "video": "v.mp4", "bbox": [0,0,1,1]}`},
		{"inverted range", `{"event_id": "x", "video": "v.mp4", "start_time_s": 5, "end_time_s": 1, "bbox": [0,0,1,1]}`},
		{"missing bbox", `{"event_id": "x", "video": "v.mp4", "start_time_s": 0, "end_time_s": 1}`},
		{"short bbox", `{"event_id": "x", "video": "v.mp4", "start_time_s": 0, "end_time_s": 1, "bbox": [0,0,1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := normalizeOne(t, tt.body); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNormalize_PerEventFrameOverride(t *testing.T) {
	rec, err := normalizeOne(t, `{
		"event_id": "x", "video": "v.mp4",
		"start_time_s": 0, "end_time_s": 1,
		"bbox": [0, 0, 100, 100],
		"frame_w": 1280, "frame_h": 720
	}`)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.FrameW != 1280 || rec.FrameH != 720 {
		t.Errorf("frame = %dx%d, want 1280x720", rec.FrameW, rec.FrameH)
	}
}

func TestNormalizeAll_DedupeAndResolve(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"event_id": "a", "video": "v.mp4", "start_time_s": 0, "end_time_s": 1, "bbox": [0.1, 0.1, 0.2, 0.2]}`),
		json.RawMessage(`{"event_id": "a", "video": "v.mp4", "start_time_s": 9, "end_time_s": 10, "bbox": [0, 0, 1, 1]}`),
		json.RawMessage(`{"event_id": "b", "video": "v.mp4", "start_time_s": 2, "end_time_s": 3, "bbox": [100, 100, 50, 30]}`),
	}

	records, resolutions, err := NormalizeAll(raws, 1920, 1080)
	if err != nil {
		t.Fatalf("NormalizeAll() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records after dedupe, want 2", len(records))
	}
	// First occurrence of "a" wins.
	if records[0].StartTimeS != 0 {
		t.Errorf("dedupe kept the wrong record: %+v", records[0])
	}

	if resolutions[0].Space != geom.SpaceNormXYXY {
		t.Errorf("event a space = %q", resolutions[0].Space)
	}
	if resolutions[1].Space != geom.SpacePixelXYWH {
		t.Errorf("event b space = %q, want xywh heuristic", resolutions[1].Space)
	}
}

func TestNormalizeAll_GrossBBoxFailsBatch(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"event_id": "a", "video": "v.mp4", "start_time_s": 0, "end_time_s": 1, "bbox": [0, 0, 100, 100]}`),
		json.RawMessage(`{"event_id": "b", "video": "v.mp4", "start_time_s": 0, "end_time_s": 1, "bbox": [0, 0, 5000, 100]}`),
	}
	if _, _, err := NormalizeAll(raws, 1920, 1080); err == nil {
		t.Fatal("expected batch failure for gross out-of-frame bbox")
	}
}
