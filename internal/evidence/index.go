package evidence

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// IndexHeader is the stable column order shared by the working index
// and the pack index; the two differ only in path base.
var IndexHeader = []string{
	"event_id", "video", "class", "roi_id",
	"start_time_s", "end_time_s",
	"clip_path", "snapshot_path", "snapshot_bbox_path",
}

// IndexRow is one event's projection into the index.
type IndexRow struct {
	EventID    string
	Video      string
	Class      string
	ROIID      string
	StartTimeS float64
	EndTimeS   float64
	ClipPath   string
	SnapPath   string
	BBoxPath   string
}

// Row projects an artifact into its index row.
func (a Artifact) Row() IndexRow {
	return IndexRow{
		EventID:    a.Record.EventID,
		Video:      a.Record.VideoFilename,
		Class:      a.Record.ClassName,
		ROIID:      a.Record.ROIID,
		StartTimeS: a.Record.StartTimeS,
		EndTimeS:   a.Record.EndTimeS,
		ClipPath:   filepath.ToSlash(a.ClipPath),
		SnapPath:   filepath.ToSlash(a.SnapPath),
		BBoxPath:   filepath.ToSlash(a.BBoxPath),
	}
}

// WriteIndex writes rows as CSV with the stable header.
func WriteIndex(path string, rows []IndexRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(IndexHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.EventID, r.Video, r.Class, r.ROIID,
			strconv.FormatFloat(r.StartTimeS, 'f', 6, 64),
			strconv.FormatFloat(r.EndTimeS, 'f', 6, 64),
			r.ClipPath, r.SnapPath, r.BBoxPath,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ValidateIndex verifies that every artifact path in rows exists under
// root. Returns the number of fully resolved rows; any missing path is
// an error listing every gap.
func ValidateIndex(root string, rows []IndexRow) (int, error) {
	var missing []string
	for _, r := range rows {
		for _, p := range []string{r.ClipPath, r.SnapPath, r.BBoxPath} {
			if p == "" {
				missing = append(missing, fmt.Sprintf("%s: empty artifact path", r.EventID))
				continue
			}
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err != nil {
				missing = append(missing, fmt.Sprintf("%s missing %s", r.EventID, p))
			}
		}
	}
	if len(missing) > 0 {
		return len(rows) - len(missing), fmt.Errorf("index validation failed: %v", missing)
	}
	return len(rows), nil
}
