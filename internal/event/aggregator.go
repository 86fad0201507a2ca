package event

import (
	"fmt"

	"github.com/dkurien/fodpipe/internal/detect"
	"github.com/dkurien/fodpipe/internal/geom"
	"github.com/dkurien/fodpipe/internal/roi"
)

// State is the debounce state of one (class, roi) track.
type State int

const (
	// StateIdle means no run in progress for the key.
	StateIdle State = iota
	// StatePending means qualifying hits were seen but the run is not
	// yet confirmed.
	StatePending
	// StateConfirmed means an open event.
	StateConfirmed
	// StateCooldown means the key is quiet after closing an event and
	// may not reopen yet.
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateCooldown:
		return "cooldown"
	}
	return "unknown"
}

// Params are the debounce thresholds. Zero values are not usable;
// use DefaultParams as a base.
type Params struct {
	ConfThreshold float64 // minimum detection confidence
	MinArea       float64 // minimum bbox area in px^2
	ConfirmN      int     // qualifying hits to open an event
	EndMissM      int     // misses to close or discard a run
	MinEventDurS  float64 // shorter confirmed runs are dropped
	CooldownS     float64 // quiet time after close before reopening
}

// DefaultParams mirrors the live-detection runner defaults.
func DefaultParams() Params {
	return Params{
		ConfThreshold: 0.25,
		MinArea:       3000.0,
		ConfirmN:      3,
		EndMissM:      10,
		MinEventDurS:  0.25,
		CooldownS:     1.0,
	}
}

// Validate rejects parameter combinations the machine cannot run with.
func (p Params) Validate() error {
	if p.ConfirmN < 1 {
		return fmt.Errorf("confirm_n must be >= 1, got %d", p.ConfirmN)
	}
	if p.EndMissM < 1 {
		return fmt.Errorf("end_miss_m must be >= 1, got %d", p.EndMissM)
	}
	if p.ConfThreshold < 0 || p.ConfThreshold > 1 {
		return fmt.Errorf("conf threshold must be in [0,1], got %v", p.ConfThreshold)
	}
	if p.MinEventDurS < 0 {
		return fmt.Errorf("min_event_dur_s must be >= 0, got %v", p.MinEventDurS)
	}
	if p.CooldownS < 0 {
		return fmt.Errorf("cooldown_s must be >= 0, got %v", p.CooldownS)
	}
	return nil
}

// trackKey identifies one debounce machine instance.
type trackKey struct {
	Class string
	ROIID string
}

// track is the per-key machine state. Only one of the counter pairs is
// meaningful in each state.
type track struct {
	state State

	hits   int
	misses int

	firstTS float64 // first qualifying timestamp of this run
	lastTS  float64 // last qualifying timestamp seen

	repBBox geom.Rect
	repConf float64
	repFrame int

	cooldownUntil float64
}

// Stats counts what the aggregator saw, for metrics and zero-event
// diagnostics.
type Stats struct {
	Frames           int
	Detections       int
	DiscardedByArea  int
	DiscardedByROI   int
	ROIPass          int
	DiscardedByConf  int
	ROIConfPass      int
	PassByClass      map[string]int
	TopPass          []TopDetection
	TracksTotal      int
	TracksConfirmed  int
	MaxHitsOverRuns  int
	NoiseRunsDropped int // pending runs that never confirmed
	ShortRunsDropped int // confirmed runs under the duration floor
}

// TopDetection is a diagnostic record of a high-confidence passing
// detection, kept even when no event is emitted.
type TopDetection struct {
	FrameIndex int       `json:"frame_index"`
	TimestampS float64   `json:"timestamp_s"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBoxXYXY   []float64 `json:"bbox_xyxy"`
}

const topPassKeep = 5

// Aggregator is the single-threaded sequential reduction from frames
// to events. Frames must arrive in non-decreasing timestamp order.
type Aggregator struct {
	params Params
	gate   *roi.ROI
	frameW int
	frameH int

	tracks map[trackKey]*track
	closed []Event
	stats  Stats

	video  string
	lastTS float64
	sawAny bool
}

// NewAggregator builds an aggregator for one video and one ROI gate.
// frameW/frameH is the native frame size every bbox must fit.
func NewAggregator(params Params, gate *roi.ROI, video string, frameW, frameH int) (*Aggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if gate == nil {
		return nil, fmt.Errorf("nil ROI gate")
	}
	if frameW <= 0 || frameH <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", frameW, frameH)
	}
	return &Aggregator{
		params: params,
		gate:   gate,
		frameW: frameW,
		frameH: frameH,
		tracks: make(map[trackKey]*track),
		stats:  Stats{PassByClass: make(map[string]int)},
		video:  video,
	}, nil
}

// ObserveFrame advances every track by one frame. Detections that
// qualify (confidence, area, ROI) count as hits for their key; every
// tracked key with no qualifying detection this frame takes a miss.
func (a *Aggregator) ObserveFrame(f *detect.Frame) error {
	if a.sawAny && f.TimestampS < a.lastTS {
		return fmt.Errorf("out-of-order frame %d: timestamp %.3f < %.3f", f.Index, f.TimestampS, a.lastTS)
	}
	a.sawAny = true
	a.lastTS = f.TimestampS
	a.stats.Frames++
	a.stats.Detections += len(f.Detections)

	// Best qualifying detection per key this frame.
	best := make(map[trackKey]detect.Detection)
	for _, d := range f.Detections {
		if err := geom.CheckFrameFit(d.BBox, a.frameW, a.frameH); err != nil {
			return fmt.Errorf("frame %d: bbox inconsistent with %dx%d frame: %w", f.Index, a.frameW, a.frameH, err)
		}
		if d.BBox.Area() < a.params.MinArea {
			a.stats.DiscardedByArea++
			continue
		}
		cx, cy := d.BBox.Center()
		if !a.gate.Contains(cx, cy) {
			a.stats.DiscardedByROI++
			continue
		}
		a.stats.ROIPass++
		if d.Confidence < a.params.ConfThreshold {
			a.stats.DiscardedByConf++
			continue
		}
		a.stats.ROIConfPass++
		a.stats.PassByClass[d.ClassName]++
		a.recordTopPass(f, d)

		key := trackKey{Class: d.ClassName, ROIID: a.gate.ID}
		if prev, ok := best[key]; !ok || d.Confidence > prev.Confidence {
			best[key] = d
		}
	}

	for key, d := range best {
		a.hit(key, f, d)
	}
	for key, t := range a.tracks {
		if _, ok := best[key]; !ok {
			a.miss(key, t)
		}
	}
	return nil
}

func (a *Aggregator) recordTopPass(f *detect.Frame, d detect.Detection) {
	a.stats.TopPass = append(a.stats.TopPass, TopDetection{
		FrameIndex: f.Index,
		TimestampS: f.TimestampS,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		BBoxXYXY:   d.BBox.Slice(),
	})
	// Keep sorted by confidence descending, capped.
	for i := len(a.stats.TopPass) - 1; i > 0; i-- {
		if a.stats.TopPass[i].Confidence > a.stats.TopPass[i-1].Confidence {
			a.stats.TopPass[i], a.stats.TopPass[i-1] = a.stats.TopPass[i-1], a.stats.TopPass[i]
		}
	}
	if len(a.stats.TopPass) > topPassKeep {
		a.stats.TopPass = a.stats.TopPass[:topPassKeep]
	}
}

func (a *Aggregator) hit(key trackKey, f *detect.Frame, d detect.Detection) {
	t, ok := a.tracks[key]
	if !ok {
		t = &track{state: StateIdle}
		a.tracks[key] = t
	}

	switch t.state {
	case StateCooldown:
		if f.TimestampS < t.cooldownUntil {
			return // quiet period, the hit does not count
		}
		t.state = StateIdle
		fallthrough

	case StateIdle:
		a.stats.TracksTotal++
		t.state = StatePending
		t.hits = 1
		t.misses = 0
		t.firstTS = f.TimestampS
		t.lastTS = f.TimestampS
		t.repBBox = d.BBox
		t.repConf = d.Confidence
		t.repFrame = f.Index
		if t.hits > a.stats.MaxHitsOverRuns {
			a.stats.MaxHitsOverRuns = t.hits
		}
		if t.hits >= a.params.ConfirmN {
			t.state = StateConfirmed
			a.stats.TracksConfirmed++
		}

	case StatePending:
		t.hits++
		t.misses = 0
		t.lastTS = f.TimestampS
		a.updateRep(t, f, d)
		if t.hits > a.stats.MaxHitsOverRuns {
			a.stats.MaxHitsOverRuns = t.hits
		}
		if t.hits >= a.params.ConfirmN {
			t.state = StateConfirmed
			a.stats.TracksConfirmed++
		}

	case StateConfirmed:
		t.misses = 0
		t.lastTS = f.TimestampS
		a.updateRep(t, f, d)
	}
}

// updateRep keeps the highest-confidence detection seen during the
// run; the strict comparison makes the earliest timestamp win ties.
func (a *Aggregator) updateRep(t *track, f *detect.Frame, d detect.Detection) {
	if d.Confidence > t.repConf {
		t.repConf = d.Confidence
		t.repBBox = d.BBox
		t.repFrame = f.Index
	}
}

func (a *Aggregator) miss(key trackKey, t *track) {
	switch t.state {
	case StatePending:
		// hit_count survives misses; only the miss budget shrinks.
		t.misses++
		if t.misses >= a.params.EndMissM {
			a.stats.NoiseRunsDropped++
			t.state = StateIdle
			t.hits = 0
			t.misses = 0
		}

	case StateConfirmed:
		t.misses++
		if t.misses >= a.params.EndMissM {
			a.close(key, t)
		}
	}
}

// close ends a confirmed run at its last qualifying timestamp and
// starts the cooldown clock.
func (a *Aggregator) close(key trackKey, t *track) {
	start, end := t.firstTS, t.lastTS
	if end-start >= a.params.MinEventDurS {
		a.closed = append(a.closed, Event{
			VideoFilename:      a.video,
			ClassName:          key.Class,
			ROIID:              key.ROIID,
			StartTimeS:         start,
			EndTimeS:           end,
			DurationS:          end - start,
			MaxConfidence:      t.repConf,
			RepresentativeBBox: t.repBBox.Slice(),
			RepFrame:           t.repFrame,
			FrameW:             a.frameW,
			FrameH:             a.frameH,
		})
	} else {
		a.stats.ShortRunsDropped++
	}

	t.state = StateCooldown
	t.cooldownUntil = end + a.params.CooldownS
	t.hits = 0
	t.misses = 0
}

// Finish closes any still-confirmed track at its last qualifying
// timestamp and returns the finalized, deterministically ordered
// event list. An empty list is a valid outcome.
func (a *Aggregator) Finish() []Event {
	for key, t := range a.tracks {
		switch t.state {
		case StateConfirmed:
			a.close(key, t)
		case StatePending:
			a.stats.NoiseRunsDropped++
			t.state = StateIdle
		}
	}
	return Finalize(a.closed)
}

// Stats returns the running counters. Meaningful after Finish.
func (a *Aggregator) Stats() Stats { return a.stats }
