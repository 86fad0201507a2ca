// Package geom provides bounding-box geometry and coordinate-convention
// resolution for the evidence pipeline.
//
// Every bbox that leaves this package is pixel xyxy in full-frame
// coordinates. Input boxes may arrive normalized, as xywh, or as pixel
// xyxy; Resolve applies a fixed priority order and reports which
// interpretation fired so it can be audited per event.
package geom

import (
	"errors"
	"fmt"
	"math"
)

// ClampTolerancePx is the maximum distance in pixels a bbox edge may
// spill outside the frame and still be clamped instead of rejected.
// Overridable because the right cutoff depends on the upstream
// detector's subpixel behavior.
var ClampTolerancePx = 2.0

// normMax is the upper bound for treating all four values as
// normalized coordinates. Slightly above 1.0 to tolerate detector
// overshoot on normalized outputs.
const normMax = 1.5

// ErrDegenerate is returned when a bbox collapses to zero width or
// height after clamping.
var ErrDegenerate = errors.New("bbox degenerate after clamp")

// CoordSpace names the interpretation Resolve applied to a raw bbox.
type CoordSpace string

const (
	// SpaceNormXYXY means all four values were in [0,1] and were scaled
	// by the frame size.
	SpaceNormXYXY CoordSpace = "norm_xyxy_fullframe"
	// SpacePixelXYXY means the values were taken as pixel xyxy as-is.
	SpacePixelXYXY CoordSpace = "pixel_xyxy_fullframe"
	// SpaceNormXYWH means normalized values that looked like xywh and
	// were converted to xyxy.
	SpaceNormXYWH CoordSpace = "norm_xywh_then_to_xyxy_fullframe"
	// SpacePixelXYWH means pixel values that looked like xywh and were
	// converted to xyxy.
	SpacePixelXYWH CoordSpace = "pixel_xywh_then_to_xyxy_fullframe"
)

// Rect is an axis-aligned box in pixel xyxy order.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return (r.X1 + r.X2) / 2.0, (r.Y1 + r.Y2) / 2.0
}

// Area returns the box area, never negative.
func (r Rect) Area() float64 {
	return math.Max(0, r.X2-r.X1) * math.Max(0, r.Y2-r.Y1)
}

// Width returns the box width, never negative.
func (r Rect) Width() float64 { return math.Max(0, r.X2-r.X1) }

// Height returns the box height, never negative.
func (r Rect) Height() float64 { return math.Max(0, r.Y2-r.Y1) }

// Slice returns the box as [x1, y1, x2, y2].
func (r Rect) Slice() []float64 {
	return []float64{r.X1, r.Y1, r.X2, r.Y2}
}

// Resolution describes how a raw bbox was interpreted and sanitized.
type Resolution struct {
	Raw        [4]float64
	Space      CoordSpace
	Pixels     Rect // interpreted pixel xyxy, before clamping
	Clamped    Rect // final pixel xyxy, after clamping
	WasClamped bool
}

// Resolve interprets a raw 4-value bbox against a frame of the given
// size and returns sanitized pixel xyxy coordinates.
//
// Priority order:
//  1. all four values in [0, normMax] -> normalized xyxy, scaled
//  2. x2<=x1 or y2<=y1 after step 1 -> treat as xywh, convert
//  3. otherwise -> pixel xyxy as-is
//
// Spillover within ClampTolerancePx is clamped to the frame; anything
// further outside is an error, not a silent clamp.
func Resolve(raw [4]float64, frameW, frameH int) (Resolution, error) {
	res := Resolution{Raw: raw}

	if frameW <= 0 || frameH <= 0 {
		return res, fmt.Errorf("invalid frame size %dx%d", frameW, frameH)
	}
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return res, fmt.Errorf("non-finite bbox value in %v", raw)
		}
	}

	a, b, c, d := raw[0], raw[1], raw[2], raw[3]
	isNorm := true
	for _, v := range raw {
		if v < 0 || v > normMax {
			isNorm = false
			break
		}
	}

	var r Rect
	if isNorm {
		fw, fh := float64(frameW), float64(frameH)
		r = Rect{a * fw, b * fh, c * fw, d * fh}
		res.Space = SpaceNormXYXY
	} else {
		r = Rect{a, b, c, d}
		res.Space = SpacePixelXYXY
	}

	// A box whose second corner does not exceed the first is taken as
	// (x, y, width, height).
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		x, y, w, h := r.X1, r.Y1, r.X2, r.Y2
		r = Rect{x, y, x + w, y + h}
		if isNorm {
			res.Space = SpaceNormXYWH
		} else {
			res.Space = SpacePixelXYWH
		}
	}
	res.Pixels = r

	clamped, wasClamped, err := ClampToFrame(r, frameW, frameH)
	if err != nil {
		return res, err
	}
	res.Clamped = clamped
	res.WasClamped = wasClamped
	return res, nil
}

// ClampToFrame clamps r to [0, w-1] x [0, h-1]. Edges further than
// ClampTolerancePx outside the frame fail instead of clamping, and so
// does a box that is degenerate after the clamp.
func ClampToFrame(r Rect, frameW, frameH int) (Rect, bool, error) {
	fw, fh := float64(frameW), float64(frameH)

	if r.X1 < -ClampTolerancePx || r.Y1 < -ClampTolerancePx ||
		r.X2 > fw+ClampTolerancePx || r.Y2 > fh+ClampTolerancePx {
		return r, false, fmt.Errorf(
			"bbox (%.2f,%.2f,%.2f,%.2f) outside %dx%d frame beyond %.1fpx tolerance",
			r.X1, r.Y1, r.X2, r.Y2, frameW, frameH, ClampTolerancePx)
	}

	c := Rect{
		X1: math.Max(0, math.Min(r.X1, fw-1)),
		Y1: math.Max(0, math.Min(r.Y1, fh-1)),
		X2: math.Max(0, math.Min(r.X2, fw-1)),
		Y2: math.Max(0, math.Min(r.Y2, fh-1)),
	}
	if c.X1 >= c.X2 || c.Y1 >= c.Y2 {
		return c, false, fmt.Errorf("%w: (%.2f,%.2f,%.2f,%.2f)", ErrDegenerate, c.X1, c.Y1, c.X2, c.Y2)
	}

	const eps = 1e-6
	wasClamped := math.Abs(c.X1-r.X1) > eps || math.Abs(c.Y1-r.Y1) > eps ||
		math.Abs(c.X2-r.X2) > eps || math.Abs(c.Y2-r.Y2) > eps
	return c, wasClamped, nil
}

// CheckFrameFit verifies that r is a plausible pixel xyxy box for the
// given frame size. Aggregator input uses this to fail fast on
// inference-space coordinates that were never mapped back to the
// native frame.
func CheckFrameFit(r Rect, frameW, frameH int) error {
	if r.X2 < r.X1 || r.Y2 < r.Y1 {
		return fmt.Errorf("bbox not xyxy ordered: (%.2f,%.2f,%.2f,%.2f)", r.X1, r.Y1, r.X2, r.Y2)
	}
	_, _, err := ClampToFrame(r, frameW, frameH)
	return err
}
