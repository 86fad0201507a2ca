package evidence

import (
	"context"

	"github.com/dkurien/fodpipe/internal/geom"
)

// Extractor produces the media artifacts for one event. Implementations
// must be safe for concurrent use across events: each call opens its
// own decode context, never a shared cursor.
type Extractor interface {
	// Duration returns the video length in seconds.
	Duration(videoPath string) (float64, error)

	// Clip re-encodes the window [startS, startS+durS] of the video.
	Clip(ctx context.Context, videoPath string, startS, durS float64, outPath string) error

	// Snapshot writes the decoded frame at frameIdx when non-nil,
	// otherwise the frame nearest atS. Returns the frame dimensions.
	Snapshot(ctx context.Context, videoPath string, frameIdx *int, atS float64, outPath string) (w, h int, err error)

	// DrawBBox copies the snapshot with box and label drawn on it.
	DrawBBox(ctx context.Context, snapshotPath string, box geom.Rect, label, outPath string) error
}
