package engine

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/graph"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func offlineOpener() Opener {
	return func() (*graph.Context, error) {
		return graph.NewContext(graph.Options{}), nil
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(offlineOpener(), quietLog())
	t.Cleanup(func() { e.Dispose() })
	return e
}

func mustStart(t *testing.T, e *Engine, cfg BinauralConfig) {
	t.Helper()
	if err := e.Start(t.Context(), cfg); err != nil {
		t.Fatalf("Start(%+v): %v", cfg, err)
	}
}

func alpha() BinauralConfig {
	p, _ := LookupPreset("ALPHA")
	return p.Config(75)
}

func TestAlphaSession(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())

	s := e.session
	if got := s.left.Frequency().Value(); got != 200 {
		t.Errorf("left = %v, want 200", got)
	}
	if got := s.right.Frequency().Value(); got != 210 {
		t.Errorf("right = %v, want 210", got)
	}
	if got := s.master.Gain().Value(); got != 0.75 {
		t.Errorf("master = %v, want 0.75", got)
	}
	if !e.IsPlaying() {
		t.Error("IsPlaying = false")
	}
	if e.State() != "running" {
		t.Errorf("State = %q, want running", e.State())
	}
	cfg, playing := e.Config()
	if !playing || cfg != alpha() {
		t.Errorf("Config = %+v,%v", cfg, playing)
	}
}

func TestRightIsBasePlusBeat(t *testing.T) {
	e := newTestEngine(t)
	for _, cfg := range []BinauralConfig{
		{BaseFrequency: 100, BeatFrequency: 0, Volume: 50},
		{BaseFrequency: 432, BeatFrequency: 7.83, Volume: 50},
		{BaseFrequency: 1000, BeatFrequency: 40, Volume: 50},
	} {
		mustStart(t, e, cfg)
		if got, want := e.session.right.Frequency().Value(), cfg.BaseFrequency+cfg.BeatFrequency; got != want {
			t.Errorf("right = %v, want %v", got, want)
		}
	}
}

func TestSessionRendersBinauralStereo(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, BinauralConfig{BaseFrequency: 200, BeatFrequency: 10, Volume: 100})

	buf := make([]float32, 2*graph.RenderQuantum)
	e.ctx.ReadFloat32s(buf)

	i := graph.RenderQuantum - 1
	wantL := 0.5 * math.Sin(2*math.Pi*200*float64(i)/graph.DefaultSampleRate)
	wantR := 0.5 * math.Sin(2*math.Pi*210*float64(i)/graph.DefaultSampleRate)
	if math.Abs(float64(buf[2*i])-wantL) > 1e-5 || math.Abs(float64(buf[2*i+1])-wantR) > 1e-5 {
		t.Errorf("frame %d = (%v,%v), want (%v,%v)", i, buf[2*i], buf[2*i+1], wantL, wantR)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	e.Stop() // before any start
	mustStart(t, e, alpha())

	e.Stop()
	e.Stop()

	if e.IsPlaying() {
		t.Error("IsPlaying after Stop")
	}
	if _, playing := e.Config(); playing {
		t.Error("Config reports playing")
	}
	if e.analyser == nil {
		t.Error("analyser should outlive the session")
	}
	if n := graph.InputCount(e.analyser); n != 0 {
		t.Errorf("analyser inputs after Stop = %d, want 0", n)
	}
}

func TestStartWhilePlayingReplacesSession(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	old := e.session
	oldAnalyser := e.analyser

	beta, _ := LookupPreset("beta")
	mustStart(t, e, beta.Config(50))

	if e.session == old {
		t.Fatal("session not rebuilt")
	}
	if graph.Connected(old.master, oldAnalyser) {
		t.Error("old master still connected")
	}
	if graph.Connected(oldAnalyser, e.ctx.Destination()) {
		t.Error("old analyser still connected")
	}
	if got := e.session.right.Frequency().Value(); got != 220 {
		t.Errorf("right = %v, want 220", got)
	}
}

func TestVolumeBounds(t *testing.T) {
	e := newTestEngine(t)
	e.SetVolume(50) // stopped: no-op
	mustStart(t, e, alpha())

	tests := []struct {
		percent float64
		want    float64
	}{
		{0, 0},
		{100, 1},
		{150, 1},
		{-20, 0},
		{30, 0.3},
	}
	for _, tt := range tests {
		e.SetVolume(tt.percent)
		if got := e.session.master.Gain().Value(); got != tt.want {
			t.Errorf("SetVolume(%v): gain = %v, want %v", tt.percent, got, tt.want)
		}
	}
	if cfg, _ := e.Config(); cfg.Volume != 30 {
		t.Errorf("Config.Volume = %v, want 30", cfg.Volume)
	}
}

func TestStartClampsVolume(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, BinauralConfig{BaseFrequency: 200, BeatFrequency: 10, Volume: 250})
	if got := e.session.master.Gain().Value(); got != 1 {
		t.Errorf("master = %v, want 1", got)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	e := newTestEngine(t)
	for _, cfg := range []BinauralConfig{
		{BaseFrequency: 0, BeatFrequency: 10},
		{BaseFrequency: -200, BeatFrequency: 10},
		{BaseFrequency: 200, BeatFrequency: -1},
		{BaseFrequency: math.NaN(), BeatFrequency: 10},
	} {
		if err := e.Start(t.Context(), cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Start(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
	if e.IsPlaying() {
		t.Error("invalid start left a session")
	}
}

func TestTransitionSchedulesGlide(t *testing.T) {
	e := newTestEngine(t)
	delta, _ := LookupPreset("DELTA")
	mustStart(t, e, delta.Config(60))
	beta, _ := LookupPreset("BETA")

	if err := e.TransitionTo(beta.Config(80), 2*time.Second); err != nil {
		t.Fatal(err)
	}

	right := e.session.right.Frequency()
	if got := right.Value(); got != 202 {
		t.Errorf("right right after transition = %v, want 202", got)
	}
	if got := right.Target(); got != 220 {
		t.Errorf("right target = %v, want 220", got)
	}
	if got := e.session.master.Gain().Target(); got != 0.8 {
		t.Errorf("master target = %v, want 0.8", got)
	}

	e.ctx.Render(2 * graph.DefaultSampleRate)

	// three time-constants: 95% of the way
	if got := right.Value(); got < 219 || got > 220 {
		t.Errorf("right after 2s = %v, want ~219.1", got)
	}
	if got := e.session.left.Frequency().Value(); math.Abs(got-200) > 1e-9 {
		t.Errorf("left = %v, want 200", got)
	}
}

func TestTransitionWithoutSessionIsNoop(t *testing.T) {
	e := newTestEngine(t)
	if err := e.TransitionTo(alpha(), time.Second); err != nil {
		t.Errorf("TransitionTo = %v, want nil", err)
	}
	if e.IsPlaying() {
		t.Error("transition started a session")
	}
}

func TestTransitionDefaultDuration(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	if err := e.TransitionTo(BinauralConfig{BaseFrequency: 300, BeatFrequency: 10, Volume: 75}, 0); err != nil {
		t.Fatal(err)
	}
	now := e.ctx.CurrentTime()
	tau := DefaultTransition.Seconds() / 3
	want := 300 + (200-300)*math.Exp(-1)
	if got := e.session.left.Frequency().ValueAt(now + tau); math.Abs(got-want) > 1e-9 {
		t.Errorf("left after one time-constant = %v, want %v", got, want)
	}
}

func TestAudioUnavailableThenRetry(t *testing.T) {
	fail := true
	e := New(func() (*graph.Context, error) {
		if fail {
			return nil, errors.New("permission denied")
		}
		return graph.NewContext(graph.Options{}), nil
	}, quietLog())
	defer e.Dispose()

	err := e.Start(t.Context(), alpha())
	if !errors.Is(err, ErrAudioUnavailable) {
		t.Fatalf("Start = %v, want ErrAudioUnavailable", err)
	}
	if e.State() != "unavailable" || e.IsPlaying() {
		t.Errorf("state after failure = %q playing=%v", e.State(), e.IsPlaying())
	}

	fail = false
	mustStart(t, e, alpha())
	if !e.IsPlaying() {
		t.Error("retry did not start")
	}
}

type failingOutput struct{}

func (failingOutput) Open(context.Context, graph.Source) error { return errors.New("device busy") }
func (failingOutput) Close() error                             { return nil }

func TestResumeFailureIsAudioUnavailable(t *testing.T) {
	e := New(func() (*graph.Context, error) {
		return graph.NewContext(graph.Options{Output: failingOutput{}}), nil
	}, quietLog())
	defer e.Dispose()

	if err := e.Start(t.Context(), alpha()); !errors.Is(err, ErrAudioUnavailable) {
		t.Errorf("Start = %v, want ErrAudioUnavailable", err)
	}
	if e.State() != "suspended" {
		t.Errorf("State = %q, want suspended", e.State())
	}
}

func TestDisposeClearsEverything(t *testing.T) {
	e := New(offlineOpener(), quietLog())
	mustStart(t, e, alpha())
	for _, id := range []string{"rain", "ocean", "forest"} {
		if err := e.StartAmbient(id, 0.3); err != nil {
			t.Fatal(err)
		}
	}
	wn := e.AddWhiteNoise(DefaultWhiteNoise)
	if wn == nil {
		t.Fatal("AddWhiteNoise returned nil")
	}

	if err := e.Dispose(); err != nil {
		t.Fatal(err)
	}

	if got := e.AmbientChannels(); len(got) != 0 {
		t.Errorf("AmbientChannels after Dispose = %v", got)
	}
	if wn.Playing() {
		t.Error("white noise still playing")
	}
	if e.IsPlaying() {
		t.Error("IsPlaying after Dispose")
	}
	if e.State() != "unavailable" {
		t.Errorf("State = %q, want unavailable", e.State())
	}
	if err := e.Start(t.Context(), alpha()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Start after Dispose = %v, want ErrDisposed", err)
	}
	if err := e.Dispose(); err != nil {
		t.Errorf("second Dispose = %v", err)
	}
}

func TestVisualizationFeed(t *testing.T) {
	e := newTestEngine(t)
	if len(e.FrequencyData()) != 0 || len(e.TimeDomainData()) != 0 {
		t.Error("feed should be empty before Start")
	}
	mustStart(t, e, alpha())
	e.ctx.Render(graph.DefaultFFTSize)

	freq := e.FrequencyData()
	if len(freq) != 1024 {
		t.Fatalf("len(FrequencyData) = %d, want 1024", len(freq))
	}
	peak := 0
	for k := range freq {
		if freq[k] > freq[peak] {
			peak = k
		}
	}
	// 200-210 Hz at 23.4 Hz per bin
	if peak < 7 || peak > 10 {
		t.Errorf("spectrum peak at bin %d, want ~8-9", peak)
	}
	if len(e.TimeDomainData()) != 2048 {
		t.Errorf("len(TimeDomainData) = %d, want 2048", len(e.TimeDomainData()))
	}

	e.Stop()
	if len(e.FrequencyData()) != 1024 {
		t.Error("feed should keep reading the analyser after Stop")
	}
}

func TestPresets(t *testing.T) {
	want := map[string]float64{"DELTA": 2, "THETA": 6, "ALPHA": 10, "BETA": 20, "GAMMA": 40}
	ps := Presets()
	if len(ps) != len(want) {
		t.Fatalf("len(Presets) = %d", len(ps))
	}
	for _, p := range ps {
		if p.BaseFrequency != 200 || p.BeatFrequency != want[p.Name] {
			t.Errorf("%s = %v/%v", p.Name, p.BaseFrequency, p.BeatFrequency)
		}
	}
	if _, ok := LookupPreset("Gamma"); !ok {
		t.Error("lookup should ignore case")
	}
	if _, ok := LookupPreset("EPSILON"); ok {
		t.Error("unknown preset found")
	}
}

func TestTransitionWithoutSessionIgnoresConfig(t *testing.T) {
	e := newTestEngine(t)
	if err := e.TransitionTo(BinauralConfig{BaseFrequency: -1, Volume: 50}, time.Second); err != nil {
		t.Errorf("TransitionTo = %v, want nil without a session", err)
	}
}

// tailOutput records what the graph still renders when it is closed.
type tailOutput struct {
	src  graph.Source
	peak float32
}

func (o *tailOutput) Open(_ context.Context, src graph.Source) error {
	o.src = src
	return nil
}

func (o *tailOutput) Close() error {
	buf := make([]float32, 2*graph.RenderQuantum*8)
	o.src.ReadFloat32s(buf)
	for _, v := range buf {
		o.peak = max(o.peak, v, -v)
	}
	return nil
}

func TestDisposeLetsOutputFadeFromLiveSession(t *testing.T) {
	out := &tailOutput{}
	e := New(func() (*graph.Context, error) {
		return graph.NewContext(graph.Options{Output: out}), nil
	}, quietLog())
	mustStart(t, e, alpha())

	if err := e.Dispose(); err != nil {
		t.Fatal(err)
	}
	if out.peak < 0.1 {
		t.Errorf("output rendered peak %v on close, want the session still audible", out.peak)
	}
}

// gatedOutput holds Open until released.
type gatedOutput struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedOutput) Open(context.Context, graph.Source) error {
	close(g.entered)
	<-g.release
	return nil
}

func (g *gatedOutput) Close() error { return nil }

func TestDisposeDuringStartIsDisposed(t *testing.T) {
	out := &gatedOutput{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(func() (*graph.Context, error) {
		return graph.NewContext(graph.Options{Output: out}), nil
	}, quietLog())

	errc := make(chan error, 1)
	go func() { errc <- e.Start(context.Background(), alpha()) }()
	<-out.entered
	if err := e.Dispose(); err != nil {
		t.Fatal(err)
	}
	close(out.release)

	if err := <-errc; !errors.Is(err, ErrDisposed) {
		t.Errorf("Start = %v, want ErrDisposed", err)
	}
}
