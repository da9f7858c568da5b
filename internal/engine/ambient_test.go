package engine

import (
	"errors"
	"slices"
	"testing"

	"github.com/satindergrewal/binaural/internal/graph"
)

func TestAmbientBeforeContextIsNoop(t *testing.T) {
	e := newTestEngine(t)
	if err := e.StartAmbient("rain", 0.5); err != nil {
		t.Fatalf("StartAmbient = %v, want nil", err)
	}
	if e.IsAmbientPlaying("rain") {
		t.Error("ambient playing without an output context")
	}
	if e.AddWhiteNoise(0.1) != nil {
		t.Error("AddWhiteNoise should return nil without an output context")
	}
}

func TestUnknownAmbient(t *testing.T) {
	e := newTestEngine(t)
	if err := e.StartAmbient("thunder", 0.5); !errors.Is(err, ErrUnknownAmbient) {
		t.Errorf("StartAmbient = %v, want ErrUnknownAmbient", err)
	}
}

func TestNoDuplicateAmbient(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())

	e.StartAmbient("rain", 0.3)
	first := e.ambient["rain"]
	e.StartAmbient("rain", 0.9)

	if got := e.AmbientChannels(); !slices.Equal(got, []string{"rain"}) {
		t.Errorf("AmbientChannels = %v, want [rain]", got)
	}
	if e.ambient["rain"] != first {
		t.Error("second start replaced the channel")
	}
	if got := first.gain.Gain().Value(); got != 0.3 {
		t.Errorf("volume = %v, want the original 0.3", got)
	}
	if n := graph.InputCount(e.analyser); n != 2 {
		t.Errorf("analyser inputs = %d, want master + rain", n)
	}
}

func TestAmbientLayering(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())

	if err := e.StartAmbient("rain", 0.3); err != nil {
		t.Fatal(err)
	}
	if err := e.StartAmbient("ocean", 0.2); err != nil {
		t.Fatal(err)
	}

	s := e.session
	paths := []struct {
		name     string
		src, dst graph.Node
	}{
		{"left tone", s.left, s.leftGain},
		{"right tone", s.right, s.rightGain},
		{"rain", e.ambient["rain"].source, e.ambient["rain"].gain},
		{"ocean", e.ambient["ocean"].source, e.ambient["ocean"].gain},
		{"master bus", s.master, e.analyser},
		{"rain bus", e.ambient["rain"].gain, e.analyser},
		{"ocean bus", e.ambient["ocean"].gain, e.analyser},
	}
	for _, p := range paths {
		if !graph.Connected(p.src, p.dst) {
			t.Errorf("%s not connected", p.name)
		}
	}
	if n := graph.InputCount(e.analyser); n != 3 {
		t.Errorf("analyser inputs = %d, want 3", n)
	}
	if got := e.AmbientChannels(); !slices.Equal(got, []string{"ocean", "rain"}) {
		t.Errorf("AmbientChannels = %v", got)
	}

	e.Stop()
	buf := make([]float32, 2*graph.RenderQuantum)
	e.ctx.ReadFloat32s(buf)
	var energy float64
	for _, v := range buf {
		energy += float64(v) * float64(v)
	}
	if energy == 0 {
		t.Error("ambient beds should keep sounding after the tones stop")
	}
}

func TestAmbientFollowsNewAnalyser(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	e.StartAmbient("forest", 0.4)

	mustStart(t, e, alpha())

	if !graph.Connected(e.ambient["forest"].gain, e.analyser) {
		t.Error("ambient not re-routed into the new analyser")
	}
}

func TestAmbientWithoutSessionGoesToDestination(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	e.Stop()
	e.analyser.Disconnect()
	e.analyser = nil

	e.StartAmbient("whitenoise", 0.5)

	if !graph.Connected(e.ambient["whitenoise"].gain, e.ctx.Destination()) {
		t.Error("ambient should route to the destination when no analyser exists")
	}
}

func TestStopAndLevelAmbient(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	e.StartAmbient("ocean", 0.2)

	e.SetAmbientVolume("ocean", 1.7)
	if got := e.ambient["ocean"].gain.Gain().Value(); got != 1 {
		t.Errorf("clamped volume = %v, want 1", got)
	}
	e.SetAmbientVolume("rain", 0.5) // not playing: ignored

	ch := e.ambient["ocean"]
	e.StopAmbient("ocean")
	e.StopAmbient("ocean")

	if e.IsAmbientPlaying("ocean") {
		t.Error("ocean still playing")
	}
	if graph.Connected(ch.gain, e.analyser) {
		t.Error("stopped channel still routed")
	}
	if ch.source.Playing() {
		t.Error("stopped source still playing")
	}
}

func TestAddWhiteNoiseRoutesToDestination(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())

	src := e.AddWhiteNoise(DefaultWhiteNoise)

	if src == nil || !src.Playing() {
		t.Fatal("white noise not playing")
	}
	if len(e.AmbientChannels()) != 0 {
		t.Error("legacy white noise must not be tracked as an ambient channel")
	}
	if graph.InputCount(e.ctx.Destination()) != 2 {
		t.Errorf("destination inputs = %d, want analyser + white noise", graph.InputCount(e.ctx.Destination()))
	}
}

func TestStopWhiteNoise(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	for range 3 {
		if e.AddWhiteNoise(0.2) == nil {
			t.Fatal("AddWhiteNoise returned nil")
		}
	}
	if got := e.WhiteNoiseLoops(); got != 3 {
		t.Fatalf("WhiteNoiseLoops = %d, want 3", got)
	}

	e.StopWhiteNoise()
	e.Stop()

	if got := e.WhiteNoiseLoops(); got != 0 {
		t.Errorf("WhiteNoiseLoops after stop = %d, want 0", got)
	}
	if got := graph.InputCount(e.ctx.Destination()); got != 1 {
		t.Errorf("destination inputs = %d, want only the analyser", got)
	}
	buf := make([]float32, 2*graph.RenderQuantum)
	e.ctx.ReadFloat32s(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample[%d] = %v after stopping everything, want silence", i, v)
		}
	}
}

func TestStoppedWhiteNoiseIsReleased(t *testing.T) {
	e := newTestEngine(t)
	mustStart(t, e, alpha())
	first := e.AddWhiteNoise(0.2)
	if err := first.Stop(0); err != nil {
		t.Fatal(err)
	}

	e.AddWhiteNoise(0.2)

	if got := e.WhiteNoiseLoops(); got != 1 {
		t.Errorf("WhiteNoiseLoops = %d, want 1", got)
	}
	if got := graph.InputCount(e.ctx.Destination()); got != 2 {
		t.Errorf("destination inputs = %d, want analyser + one loop", got)
	}
}
