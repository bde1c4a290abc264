package scan

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/vitalscan/pkg/provider/synthetic"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// feed runs ratios through a fresh detector, one sample every step, and
// returns the final state and the number of emitted events.
func feed(d BlinkDetector, ratios []float64, step time.Duration) (BlinkState, int) {
	var st BlinkState
	events := 0
	for i, r := range ratios {
		var ev *BlinkEvent
		st, ev = d.Step(st, ApertureSample{Timestamp: t0.Add(time.Duration(i) * step), CombinedRatio: r})
		if ev != nil {
			events++
		}
	}
	return st, events
}

func TestBlinkDetector_FullCycles(t *testing.T) {
	t.Parallel()

	desktop := NewBlinkDetector(DefaultProfiles().For(DeviceDesktop), 0)
	mobile := NewBlinkDetector(DefaultProfiles().For(DeviceMobile), 0)

	tests := []struct {
		name   string
		det    BlinkDetector
		ratios []float64
		want   int
	}{
		{
			name:   "one cycle",
			det:    desktop,
			ratios: []float64{0.30, 0.30, 0.15, 0.15, 0.30},
			want:   1,
		},
		{
			name:   "three cycles",
			det:    desktop,
			ratios: []float64{0.30, 0.15, 0.30, 0.30, 0.15, 0.30, 0.30, 0.15, 0.30},
			want:   3,
		},
		{
			name: "no crossing of reopen keeps detector closed",
			det:  desktop,
			// Dips again without rising above 0.25 in between.
			ratios: []float64{0.30, 0.15, 0.22, 0.15, 0.22},
			want:   1,
		},
		{
			name: "slow close through the band is not a blink",
			det:  desktop,
			// Previous sample must be above reopen when closing.
			ratios: []float64{0.30, 0.22, 0.18, 0.30},
			want:   0,
		},
		{
			name:   "first sample closed never counts",
			det:    desktop,
			ratios: []float64{0.10, 0.30},
			want:   0,
		},
		{
			name:   "desktop closed value is open for mobile",
			det:    mobile,
			ratios: []float64{0.35, 0.20, 0.35, 0.35, 0.27, 0.35},
			want:   2,
		},
		{
			name:   "mobile needs the looser band",
			det:    mobile,
			ratios: []float64{0.30, 0.20, 0.30},
			want:   0,
		},
		{
			name:   "exact thresholds",
			det:    desktop,
			ratios: []float64{0.2500001, 0.20, 0.2500001},
			want:   1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st, events := feed(tc.det, tc.ratios, 200*time.Millisecond)
			if events != tc.want {
				t.Errorf("events = %d, want %d", events, tc.want)
			}
			if st.Count != tc.want {
				t.Errorf("Count = %d, want %d", st.Count, tc.want)
			}
		})
	}
}

func TestBlinkDetector_Debounce(t *testing.T) {
	t.Parallel()

	det := NewBlinkDetector(DefaultProfiles().For(DeviceDesktop), 0)
	if det.Debounce != DefaultDebounce {
		t.Fatalf("Debounce = %v, want %v", det.Debounce, DefaultDebounce)
	}

	tests := []struct {
		name string
		step time.Duration
		want int
	}{
		// Two closed crossings 80 ms apart collapse into one blink.
		{name: "within debounce", step: 40 * time.Millisecond, want: 1},
		// 100 ms apart is exactly the debounce interval and counts twice.
		{name: "at debounce", step: 50 * time.Millisecond, want: 2},
		{name: "well apart", step: 100 * time.Millisecond, want: 2},
	}

	// Closed crossings at samples 1 and 3.
	ratios := []float64{0.30, 0.15, 0.30, 0.15, 0.30}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, got := feed(det, ratios, tc.step); got != tc.want {
				t.Errorf("blinks = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBlinkDetector_DebouncedCrossingStillClosesEye(t *testing.T) {
	t.Parallel()

	det := NewBlinkDetector(ThresholdProfile{Closed: 0.2, Reopen: 0.25}, 100*time.Millisecond)
	st := BlinkState{}
	st, _ = det.Step(st, ApertureSample{Timestamp: t0, CombinedRatio: 0.3})
	st, ev := det.Step(st, ApertureSample{Timestamp: t0.Add(20 * time.Millisecond), CombinedRatio: 0.1})
	if ev == nil || st.Eye != EyeClosed {
		t.Fatalf("first crossing: ev=%v eye=%v", ev, st.Eye)
	}
	st, _ = det.Step(st, ApertureSample{Timestamp: t0.Add(40 * time.Millisecond), CombinedRatio: 0.3})
	st, ev = det.Step(st, ApertureSample{Timestamp: t0.Add(60 * time.Millisecond), CombinedRatio: 0.1})
	if ev != nil {
		t.Error("second crossing inside debounce emitted an event")
	}
	if st.Eye != EyeClosed {
		t.Errorf("eye = %v, want closed", st.Eye)
	}
	if !st.LastBlink.Equal(t0.Add(20 * time.Millisecond)) {
		t.Errorf("LastBlink = %v, want first crossing", st.LastBlink)
	}
}

func TestThresholdProfile_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       ThresholdProfile
		wantErr bool
	}{
		{name: "desktop", p: DefaultProfiles()[DeviceDesktop]},
		{name: "mobile", p: DefaultProfiles()[DeviceMobile]},
		{name: "inverted", p: ThresholdProfile{Closed: 0.3, Reopen: 0.2}, wantErr: true},
		{name: "equal", p: ThresholdProfile{Closed: 0.2, Reopen: 0.2}, wantErr: true},
		{name: "zero", p: ThresholdProfile{}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.p.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestProfiles_For(t *testing.T) {
	t.Parallel()

	p := DefaultProfiles()
	if got := p.For(DeviceMobile); got != (ThresholdProfile{Closed: 0.28, Reopen: 0.32}) {
		t.Errorf("mobile = %+v", got)
	}
	if got := p.For("tablet"); got != p[DeviceDesktop] {
		t.Errorf("unknown class = %+v, want desktop fallback", got)
	}
	if got := (Profiles{}).For(DeviceMobile); got != DefaultProfiles()[DeviceDesktop] {
		t.Errorf("empty profiles = %+v, want built-in desktop", got)
	}
}

func TestEyeRatio(t *testing.T) {
	t.Parallel()

	face := synthetic.Face(0.27)
	got, ok := EyeRatio(face, DefaultLeftEye)
	if !ok || math.Abs(got-0.27) > 1e-9 {
		t.Fatalf("EyeRatio = %v, %v; want 0.27, true", got, ok)
	}

	sample, ok := EvaluateAperture(face, DefaultEyeLayout(), t0)
	if !ok {
		t.Fatal("EvaluateAperture not ok")
	}
	if math.Abs(sample.CombinedRatio-0.27) > 1e-9 || !sample.Timestamp.Equal(t0) {
		t.Errorf("sample = %+v", sample)
	}
}

func TestEyeRatio_Degenerate(t *testing.T) {
	t.Parallel()

	collapsed := synthetic.Face(0.3)
	collapsed.Points[133] = collapsed.Points[33]

	nan := synthetic.Face(0.3)
	nan.Points[160] = vision.Point3{X: math.NaN()}

	inf := synthetic.Face(0.3)
	inf.Points[380] = vision.Point3{Y: math.Inf(1)}

	tests := []struct {
		name string
		ls   vision.LandmarkSet
	}{
		{name: "empty set", ls: vision.LandmarkSet{}},
		{name: "too few points", ls: vision.LandmarkSet{Points: make([]vision.Point3, 100)}},
		{name: "zero width eye", ls: collapsed},
		{name: "NaN lid", ls: nan},
		{name: "infinite right eye", ls: inf},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if s, ok := EvaluateAperture(tc.ls, DefaultEyeLayout(), t0); ok {
				t.Errorf("EvaluateAperture = %+v, want no sample", s)
			}
		})
	}
}
