// Package pack assembles the final evidence pack tree and seals it
// into a reproducible, checksummed archive. Everything here is
// deterministic: fixed timestamps, canonical entry order, no wall
// clock. Two runs over byte-identical inputs produce byte-identical
// archives.
package pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dkurien/fodpipe/internal/evidence"
)

// Determinism constants. Every generated file carries the fixed
// timestamp and mtime instead of the wall clock.
const (
	FixedTimestampUTC = "2026-01-04T00:00:00Z"
	FixedMTimeEpoch   = 1700000000
)

var readmeText = `Evidence Pack (Deterministic)
Structure:
  pack/
    README.txt
    index.csv
    events/
      event_0001/
        clip.mp4
        snapshot.jpg
        snapshot_bbox.jpg
        audit.json
        alarm.json
`

// TimeWindow is the alarm's event window in seconds.
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ConfidenceSummary carries whatever confidence statistics the input
// provided; absent values stay null.
type ConfidenceSummary struct {
	Avg *float64 `json:"avg"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// AlarmEvidence holds pack-relative artifact paths.
type AlarmEvidence struct {
	Clip         string `json:"clip"`
	Snapshot     string `json:"snapshot"`
	SnapshotBBox string `json:"snapshot_bbox"`
}

// AlarmIntegrity holds per-artifact content digests.
type AlarmIntegrity struct {
	ClipSHA256         string `json:"clip_sha256"`
	SnapshotSHA256     string `json:"snapshot_sha256"`
	SnapshotBBoxSHA256 string `json:"snapshot_bbox_sha256"`
}

// Alarm is the per-event alarm artifact written into each pack folder.
type Alarm struct {
	TimestampUTC  string            `json:"timestamp_utc"`
	EventID       string            `json:"event_id"`
	Class         string            `json:"class"`
	ROIID         string            `json:"roi_id"`
	VideoFilename string            `json:"video_filename"`
	TimeWindowS   TimeWindow        `json:"time_window_s"`
	Confidence    ConfidenceSummary `json:"confidence_summary"`
	Evidence      AlarmEvidence     `json:"evidence"`
	Integrity     AlarmIntegrity    `json:"integrity"`
	Action        string            `json:"action"`
	Notes         string            `json:"notes"`
}

// Build assembles the pack tree under packDir from artifacts rooted at
// workRoot. Events are laid out as events/event_%04d in id order, each
// with its clip, snapshots, audit record, and alarm record, plus a
// top-level README and index. The index is validated before returning:
// a pack with unresolvable rows is never produced.
func Build(workRoot, packDir string, artifacts []evidence.Artifact) ([]evidence.IndexRow, error) {
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("no artifacts to pack")
	}

	if err := os.RemoveAll(packDir); err != nil {
		return nil, fmt.Errorf("clear pack dir: %w", err)
	}
	eventsDir := filepath.Join(packDir, "events")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pack dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packDir, "README.txt"), []byte(readmeText), 0o644); err != nil {
		return nil, err
	}

	ordered := append([]evidence.Artifact(nil), artifacts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return eventIDLess(ordered[i].Record.EventID, ordered[j].Record.EventID)
	})

	rows := make([]evidence.IndexRow, 0, len(ordered))
	for i, a := range ordered {
		rec := a.Record
		evDir := filepath.Join(eventsDir, fmt.Sprintf("event_%04d", i+1))
		if err := os.MkdirAll(evDir, 0o755); err != nil {
			return nil, err
		}

		clipDst := filepath.Join(evDir, "clip.mp4")
		snapDst := filepath.Join(evDir, "snapshot.jpg")
		bboxDst := filepath.Join(evDir, "snapshot_bbox.jpg")
		copies := []struct{ src, dst string }{
			{filepath.Join(workRoot, a.ClipPath), clipDst},
			{filepath.Join(workRoot, a.SnapPath), snapDst},
			{filepath.Join(workRoot, a.BBoxPath), bboxDst},
		}
		for _, c := range copies {
			if err := copyFile(c.src, c.dst); err != nil {
				return nil, fmt.Errorf("%s: %w", rec.EventID, err)
			}
		}

		if err := writeJSON(filepath.Join(evDir, "audit.json"), a.Audit); err != nil {
			return nil, fmt.Errorf("%s: audit: %w", rec.EventID, err)
		}

		clipSum, err := FileDigest(clipDst)
		if err != nil {
			return nil, err
		}
		snapSum, err := FileDigest(snapDst)
		if err != nil {
			return nil, err
		}
		bboxSum, err := FileDigest(bboxDst)
		if err != nil {
			return nil, err
		}

		rel := func(p string) string {
			r, _ := filepath.Rel(packDir, p)
			return filepath.ToSlash(r)
		}
		alarm := Alarm{
			TimestampUTC:  FixedTimestampUTC,
			EventID:       rec.EventID,
			Class:         rec.ClassName,
			ROIID:         rec.ROIID,
			VideoFilename: rec.VideoFilename,
			TimeWindowS:   TimeWindow{Start: rec.StartTimeS, End: rec.EndTimeS},
			Confidence:    ConfidenceSummary{Max: rec.MaxConfidence},
			Evidence: AlarmEvidence{
				Clip:         rel(clipDst),
				Snapshot:     rel(snapDst),
				SnapshotBBox: rel(bboxDst),
			},
			Integrity: AlarmIntegrity{
				ClipSHA256:         clipSum,
				SnapshotSHA256:     snapSum,
				SnapshotBBoxSHA256: bboxSum,
			},
			Action: "ALARM_TRIGGERED",
			Notes:  "deterministic alarm artifact",
		}
		if err := writeJSON(filepath.Join(evDir, "alarm.json"), alarm); err != nil {
			return nil, fmt.Errorf("%s: alarm: %w", rec.EventID, err)
		}

		rows = append(rows, evidence.IndexRow{
			EventID:    rec.EventID,
			Video:      rec.VideoFilename,
			Class:      rec.ClassName,
			ROIID:      rec.ROIID,
			StartTimeS: rec.StartTimeS,
			EndTimeS:   rec.EndTimeS,
			ClipPath:   rel(clipDst),
			SnapPath:   rel(snapDst),
			BBoxPath:   rel(bboxDst),
		})
	}

	if err := evidence.WriteIndex(filepath.Join(packDir, "index.csv"), rows); err != nil {
		return nil, err
	}
	if _, err := evidence.ValidateIndex(packDir, rows); err != nil {
		return nil, err
	}

	if err := ForceFixedMTime(packDir); err != nil {
		return nil, err
	}
	return rows, nil
}

// ForceFixedMTime stamps every file under root with the fixed mtime so
// the tree itself, not just the archive, is reproducible.
func ForceFixedMTime(root string) error {
	fixed := time.Unix(FixedMTimeEpoch, 0)
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return os.Chtimes(path, fixed, fixed)
	})
}

// eventIDLess orders ids by their numeric suffix when both have one
// (ev_0002 before ev_0010), falling back to plain string order.
func eventIDLess(a, b string) bool {
	an, aok := idSuffix(a)
	bn, bok := idSuffix(b)
	if aok && bok {
		return an < bn
	}
	return a < b
}

func idSuffix(id string) (int, bool) {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
