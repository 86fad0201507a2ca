package evidence

import (
	"github.com/dkurien/fodpipe/internal/geom"
)

// Audit is the per-event trace of how ambiguous input was resolved.
// It is written next to the artifacts so a reviewer can check which
// bbox heuristic fired without re-running the pipeline.
type Audit struct {
	EventID         string    `json:"event_id"`
	ROIID           string    `json:"roi_id"`
	FrameW          int       `json:"frame_w"`
	FrameH          int       `json:"frame_h"`
	RawBBox         []float64 `json:"raw_bbox"`
	RawBBoxField    string    `json:"raw_bbox_field"`
	CoordSpace      string    `json:"coord_space"`
	InterpretedXYXY []float64 `json:"interpreted_bbox_xyxy_pixels"`
	ClampedXYXY     []float64 `json:"clamped_bbox_xyxy_pixels"`
	WasClamped      bool      `json:"was_clamped"`
}

// NewAudit assembles the audit record for one normalized event.
func NewAudit(rec Record, res geom.Resolution) Audit {
	return Audit{
		EventID:         rec.EventID,
		ROIID:           rec.ROIID,
		FrameW:          rec.FrameW,
		FrameH:          rec.FrameH,
		RawBBox:         append([]float64(nil), rec.RawBBox[:]...),
		RawBBoxField:    rec.RawBBoxField,
		CoordSpace:      string(res.Space),
		InterpretedXYXY: res.Pixels.Slice(),
		ClampedXYXY:     res.Clamped.Slice(),
		WasClamped:      res.WasClamped,
	}
}
