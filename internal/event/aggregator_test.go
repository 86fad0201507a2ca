package event

import (
	"testing"

	"github.com/dkurien/fodpipe/internal/detect"
	"github.com/dkurien/fodpipe/internal/geom"
	"github.com/dkurien/fodpipe/internal/roi"
)

// fullFrameROI covers the whole 1920x1080 frame so every centered
// detection is inside it.
func fullFrameROI() *roi.ROI {
	return &roi.ROI{
		ID: "roi_test",
		Polygon: []roi.Point{
			{X: 0, Y: 0}, {X: 1919, Y: 0}, {X: 1919, Y: 1079}, {X: 0, Y: 1079},
		},
	}
}

func testParams() Params {
	return Params{
		ConfThreshold: 0.5,
		MinArea:       100.0,
		ConfirmN:      3,
		EndMissM:      5,
		MinEventDurS:  0.0,
		CooldownS:     1.0,
	}
}

func newTestAggregator(t *testing.T, p Params) *Aggregator {
	t.Helper()
	a, err := NewAggregator(p, fullFrameROI(), "test.mp4", 1920, 1080)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	return a
}

func det(class string, conf float64) detect.Detection {
	return detect.Detection{
		ClassName:  class,
		Confidence: conf,
		BBox:       geom.Rect{X1: 100, Y1: 100, X2: 200, Y2: 200},
	}
}

// feed pushes one frame per entry at ~30fps; a nil entry is a frame
// with no detections.
func feed(t *testing.T, a *Aggregator, frames [][]detect.Detection) {
	t.Helper()
	for i, dets := range frames {
		f := &detect.Frame{
			Index:      i,
			TimestampS: float64(i) / 30.0,
			Detections: dets,
		}
		if err := a.ObserveFrame(f); err != nil {
			t.Fatalf("ObserveFrame(%d) error = %v", i, err)
		}
	}
}

func hits(class string, conf float64, n int) [][]detect.Detection {
	out := make([][]detect.Detection, n)
	for i := range out {
		out[i] = []detect.Detection{det(class, conf)}
	}
	return out
}

func misses(n int) [][]detect.Detection {
	return make([][]detect.Detection, n)
}

func TestAggregator_ConfirmedRunEmitsEvent(t *testing.T) {
	a := newTestAggregator(t, testParams())

	frames := append(hits("cup", 0.8, 10), misses(5)...)
	feed(t, a, frames)

	events := a.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.EventID != "ev_0001" {
		t.Errorf("EventID = %q, want ev_0001", ev.EventID)
	}
	if ev.ClassName != "cup" || ev.ROIID != "roi_test" {
		t.Errorf("event = %+v", ev)
	}
	if ev.StartTimeS != 0 {
		t.Errorf("StartTimeS = %v, want 0 (first qualifying timestamp)", ev.StartTimeS)
	}
	// Closed at the last qualifying frame, not at the miss that
	// tripped the budget.
	wantEnd := 9.0 / 30.0
	if ev.EndTimeS != wantEnd {
		t.Errorf("EndTimeS = %v, want %v", ev.EndTimeS, wantEnd)
	}
	if ev.VideoFilename != "test.mp4" || ev.FrameW != 1920 || ev.FrameH != 1080 {
		t.Errorf("event metadata = %+v", ev)
	}
}

func TestAggregator_PendingNeverConfirmedIsNoise(t *testing.T) {
	// confirm_n-1 qualifying hits followed by end_miss_m misses must
	// never emit an event.
	p := testParams()
	a := newTestAggregator(t, p)

	frames := append(hits("cup", 0.8, p.ConfirmN-1), misses(p.EndMissM)...)
	feed(t, a, frames)

	if events := a.Finish(); len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
	if a.Stats().NoiseRunsDropped != 1 {
		t.Errorf("NoiseRunsDropped = %d, want 1", a.Stats().NoiseRunsDropped)
	}
}

func TestAggregator_MissesDoNotResetPendingHits(t *testing.T) {
	// Hits interleaved with sub-budget miss gaps still accumulate to
	// confirm_n.
	p := testParams()
	a := newTestAggregator(t, p)

	var frames [][]detect.Detection
	for i := 0; i < p.ConfirmN; i++ {
		frames = append(frames, []detect.Detection{det("cup", 0.8)})
		frames = append(frames, misses(p.EndMissM-1)...)
	}
	frames = append(frames, misses(p.EndMissM)...)
	feed(t, a, frames)

	if events := a.Finish(); len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestAggregator_ConfirmedMissResetOnResume(t *testing.T) {
	// end_miss_m-1 misses then a resuming hit must not close the run.
	p := testParams()
	a := newTestAggregator(t, p)

	frames := hits("cup", 0.8, p.ConfirmN)
	frames = append(frames, misses(p.EndMissM-1)...)
	frames = append(frames, hits("cup", 0.8, 1)...)
	frames = append(frames, misses(p.EndMissM-1)...)
	frames = append(frames, hits("cup", 0.8, 1)...)
	feed(t, a, frames)

	events := a.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (run must not have closed mid-way)", len(events))
	}
	// The whole span is one event ending at the final hit.
	lastIdx := p.ConfirmN + 2*(p.EndMissM-1) + 1
	wantEnd := float64(lastIdx) / 30.0
	if events[0].EndTimeS != wantEnd {
		t.Errorf("EndTimeS = %v, want %v", events[0].EndTimeS, wantEnd)
	}
}

func TestAggregator_MinDurationDropsShortRuns(t *testing.T) {
	p := testParams()
	p.MinEventDurS = 0.5 // 10 frames at 30fps span only ~0.3s
	a := newTestAggregator(t, p)

	frames := append(hits("cup", 0.8, 10), misses(p.EndMissM)...)
	feed(t, a, frames)

	if events := a.Finish(); len(events) != 0 {
		t.Fatalf("got %d events, want 0 for sub-minimum duration", len(events))
	}
	if a.Stats().ShortRunsDropped != 1 {
		t.Errorf("ShortRunsDropped = %d, want 1", a.Stats().ShortRunsDropped)
	}
}

func TestAggregator_CooldownBlocksReopen(t *testing.T) {
	// Two bursts separated by less than cooldown_s of quiet must
	// produce one event; separated by more, two.
	p := testParams()
	p.CooldownS = 1.0

	burst := func() [][]detect.Detection { return hits("cup", 0.8, 6) }

	t.Run("inside cooldown", func(t *testing.T) {
		a := newTestAggregator(t, p)
		frames := burst()
		frames = append(frames, misses(p.EndMissM)...) // close event
		frames = append(frames, burst()...)            // ~0.37s after close
		frames = append(frames, misses(p.EndMissM)...)
		feed(t, a, frames)

		if events := a.Finish(); len(events) != 1 {
			t.Fatalf("got %d events, want 1 (second burst inside cooldown)", len(events))
		}
	})

	t.Run("after cooldown", func(t *testing.T) {
		a := newTestAggregator(t, p)
		frames := burst()
		frames = append(frames, misses(p.EndMissM)...)
		frames = append(frames, misses(40)...) // >1s of quiet at 30fps
		frames = append(frames, burst()...)
		frames = append(frames, misses(p.EndMissM)...)
		feed(t, a, frames)

		events := a.Finish()
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
		gap := events[1].StartTimeS - events[0].EndTimeS
		if gap < p.CooldownS {
			t.Errorf("events separated by %v, want >= cooldown %v", gap, p.CooldownS)
		}
	})
}

func TestAggregator_StreamEndClosesConfirmed(t *testing.T) {
	p := testParams()
	a := newTestAggregator(t, p)

	feed(t, a, hits("cup", 0.8, 8))

	events := a.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	wantEnd := 7.0 / 30.0
	if events[0].EndTimeS != wantEnd {
		t.Errorf("EndTimeS = %v, want last qualifying timestamp %v", events[0].EndTimeS, wantEnd)
	}
}

func TestAggregator_RepresentativeHighestConfidenceEarliestTie(t *testing.T) {
	p := testParams()
	a := newTestAggregator(t, p)

	mk := func(conf float64, x1 float64) []detect.Detection {
		return []detect.Detection{{
			ClassName:  "cup",
			Confidence: conf,
			BBox:       geom.Rect{X1: x1, Y1: 100, X2: x1 + 100, Y2: 200},
		}}
	}
	frames := [][]detect.Detection{
		mk(0.6, 100), // frame 0
		mk(0.9, 300), // frame 1: peak
		mk(0.9, 500), // frame 2: ties the peak, later, must lose
		mk(0.7, 700), // frame 3
	}
	feed(t, a, frames)

	events := a.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.MaxConfidence != 0.9 {
		t.Errorf("MaxConfidence = %v, want 0.9", ev.MaxConfidence)
	}
	if ev.RepFrame != 1 {
		t.Errorf("RepFrame = %d, want 1 (earliest of the tied peaks)", ev.RepFrame)
	}
	if ev.RepresentativeBBox[0] != 300 {
		t.Errorf("RepresentativeBBox = %v, want the frame-1 box", ev.RepresentativeBBox)
	}
}

func TestAggregator_SubThresholdDetectionsAreMisses(t *testing.T) {
	p := testParams()
	a := newTestAggregator(t, p)

	// Low-confidence detections qualify nothing and count as misses
	// for the pending run.
	frames := hits("cup", 0.8, p.ConfirmN-1)
	for i := 0; i < p.EndMissM; i++ {
		frames = append(frames, []detect.Detection{det("cup", 0.2)})
	}
	feed(t, a, frames)

	if events := a.Finish(); len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
	if a.Stats().DiscardedByConf != p.EndMissM {
		t.Errorf("DiscardedByConf = %d, want %d", a.Stats().DiscardedByConf, p.EndMissM)
	}
}

func TestAggregator_SmallAreaFiltered(t *testing.T) {
	p := testParams()
	p.MinArea = 50000
	a := newTestAggregator(t, p)

	feed(t, a, hits("cup", 0.9, 10)) // 100x100 boxes, area 10000

	if events := a.Finish(); len(events) != 0 {
		t.Fatalf("got %d events, want 0 for sub-area detections", len(events))
	}
	if a.Stats().DiscardedByArea != 10 {
		t.Errorf("DiscardedByArea = %d, want 10", a.Stats().DiscardedByArea)
	}
}

func TestAggregator_OutsideROIFiltered(t *testing.T) {
	p := testParams()
	gate := &roi.ROI{
		ID:      "roi_corner",
		Polygon: []roi.Point{{X: 1500, Y: 800}, {X: 1919, Y: 800}, {X: 1919, Y: 1079}, {X: 1500, Y: 1079}},
	}
	a, err := NewAggregator(p, gate, "test.mp4", 1920, 1080)
	if err != nil {
		t.Fatal(err)
	}

	feed(t, a, hits("cup", 0.9, 10)) // centered at (150,150), outside

	if events := a.Finish(); len(events) != 0 {
		t.Fatalf("got %d events, want 0 for out-of-ROI detections", len(events))
	}
	if a.Stats().DiscardedByROI != 10 {
		t.Errorf("DiscardedByROI = %d, want 10", a.Stats().DiscardedByROI)
	}
}

func TestAggregator_TwoClassesTrackIndependently(t *testing.T) {
	p := testParams()
	a := newTestAggregator(t, p)

	var frames [][]detect.Detection
	for i := 0; i < 8; i++ {
		frames = append(frames, []detect.Detection{det("cup", 0.8), det("bottle", 0.7)})
	}
	frames = append(frames, misses(p.EndMissM)...)
	feed(t, a, frames)

	events := a.Finish()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Same start time: tie broken by class name.
	if events[0].ClassName != "bottle" || events[1].ClassName != "cup" {
		t.Errorf("order = %q, %q; want bottle, cup", events[0].ClassName, events[1].ClassName)
	}
	if events[0].EventID != "ev_0001" || events[1].EventID != "ev_0002" {
		t.Errorf("ids = %q, %q", events[0].EventID, events[1].EventID)
	}
}

func TestAggregator_BBoxOutsideFrameFailsFast(t *testing.T) {
	a := newTestAggregator(t, testParams())

	// Inference-space coordinates that were never mapped back.
	f := &detect.Frame{
		Index:      0,
		TimestampS: 0,
		Detections: []detect.Detection{{
			ClassName:  "cup",
			Confidence: 0.9,
			BBox:       geom.Rect{X1: 0, Y1: 0, X2: 4000, Y2: 3000},
		}},
	}
	if err := a.ObserveFrame(f); err == nil {
		t.Fatal("expected error for bbox inconsistent with frame size")
	}
}

func TestAggregator_OutOfOrderTimestampRejected(t *testing.T) {
	a := newTestAggregator(t, testParams())

	if err := a.ObserveFrame(&detect.Frame{Index: 0, TimestampS: 1.0}); err != nil {
		t.Fatal(err)
	}
	if err := a.ObserveFrame(&detect.Frame{Index: 1, TimestampS: 0.5}); err == nil {
		t.Fatal("expected error for decreasing timestamps")
	}
}

func TestAggregator_EmptyStreamIsValid(t *testing.T) {
	a := newTestAggregator(t, testParams())
	if events := a.Finish(); len(events) != 0 {
		t.Fatalf("got %d events from empty stream, want 0", len(events))
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		wantOK bool
	}{
		{"defaults", func(p *Params) {}, true},
		{"zero confirm", func(p *Params) { p.ConfirmN = 0 }, false},
		{"zero miss budget", func(p *Params) { p.EndMissM = 0 }, false},
		{"conf above one", func(p *Params) { p.ConfThreshold = 1.5 }, false},
		{"negative duration", func(p *Params) { p.MinEventDurS = -1 }, false},
		{"negative cooldown", func(p *Params) { p.CooldownS = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err == nil) != tt.wantOK {
				t.Errorf("Validate() error = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}
