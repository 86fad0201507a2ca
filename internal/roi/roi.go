// Package roi loads region-of-interest polygons and tests detections
// against them. Detections whose bbox center falls outside the ROI
// never count toward event confirmation.
package roi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoPolygon is returned when an ROI file contains no recognizable
// polygon under any of the accepted keys.
var ErrNoPolygon = errors.New("no polygon found in ROI file")

// Point is a vertex in full-frame pixel coordinates.
type Point struct {
	X, Y float64
}

// ROI is a named polygonal gate in full-frame pixel coordinates.
type ROI struct {
	ID      string
	Polygon []Point
}

// Contains reports whether (x, y) is inside the polygon, using ray
// casting. Points exactly on an edge may fall on either side, which is
// acceptable at pixel granularity.
func (r *ROI) Contains(x, y float64) bool {
	inside := false
	n := len(r.Polygon)
	if n < 3 {
		return false
	}
	const eps = 1e-12
	for i := 0; i < n; i++ {
		p1 := r.Polygon[i]
		p2 := r.Polygon[(i+1)%n]
		if (p1.Y > y) != (p2.Y > y) {
			xInt := p1.X + (y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y+eps)
			if x < xInt {
				inside = !inside
			}
		}
	}
	return inside
}

// rawROI mirrors the tolerated ROI JSON shapes:
//
//	{"roi_id": ..., "polygon": [[x,y], ...]}
//	{"points": [[x,y], ...]}
//	{"roi": {"polygon": ...}}
type rawROI struct {
	ROIID   string      `json:"roi_id"`
	Polygon [][]float64 `json:"polygon"`
	Points  [][]float64 `json:"points"`
	Nested  *rawROI     `json:"roi"`
}

func (r *rawROI) polygon() [][]float64 {
	if len(r.Polygon) > 0 {
		return r.Polygon
	}
	if len(r.Points) > 0 {
		return r.Points
	}
	if r.Nested != nil {
		return r.Nested.polygon()
	}
	return nil
}

// Load reads an ROI from a JSON file. The roi_id defaults to the file
// basename when the file does not carry one.
func Load(path string) (*ROI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ROI file: %w", err)
	}

	var raw rawROI
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ROI file %s: %w", path, err)
	}

	pts := raw.polygon()
	if pts == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPolygon, path)
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("ROI polygon must have >= 3 points, got %d in %s", len(pts), path)
	}

	polygon := make([]Point, 0, len(pts))
	for i, p := range pts {
		if len(p) < 2 {
			return nil, fmt.Errorf("ROI polygon vertex %d malformed in %s", i, path)
		}
		polygon = append(polygon, Point{X: p[0], Y: p[1]})
	}

	id := raw.ROIID
	if id == "" && raw.Nested != nil {
		id = raw.Nested.ROIID
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &ROI{ID: id, Polygon: polygon}, nil
}

// LoadByID loads <roiID>.json from a flattened ROI directory.
func LoadByID(roisDir, roiID string) (*ROI, error) {
	path := filepath.Join(roisDir, roiID+".json")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ROI file not found: %s", path)
	}
	return Load(path)
}
