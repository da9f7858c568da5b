package noise

import (
	"math"
	"math/rand/v2"
	"testing"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestGenerateBounds(t *testing.T) {
	for _, p := range []Profile{White, Pink, Brown, Forest} {
		t.Run(p.String(), func(t *testing.T) {
			bufs := Generate(p, 48000*Seconds, 2, seeded())
			if len(bufs) != 2 {
				t.Fatalf("channels = %d, want 2", len(bufs))
			}
			for c, buf := range bufs {
				if len(buf) != 48000*Seconds {
					t.Fatalf("channel %d frames = %d", c, len(buf))
				}
				for i, v := range buf {
					if v < -1 || v > 1 || math.IsNaN(float64(v)) {
						t.Fatalf("channel %d sample %d = %v out of [-1,1]", c, i, v)
					}
				}
			}
		})
	}
}

func TestForestIsHalfAmplitude(t *testing.T) {
	buf := Generate(Forest, 10000, 1, seeded())[0]
	for i, v := range buf {
		if v < -0.5 || v > 0.5 {
			t.Fatalf("sample %d = %v, want within ±0.5", i, v)
		}
	}
}

func rms(buf []float32) float64 {
	var sum float64
	for _, v := range buf {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(buf)))
}

// meanStep is the average absolute difference between adjacent samples; it
// falls as a spectrum tilts towards low frequencies.
func meanStep(buf []float32) float64 {
	var sum float64
	for i := 1; i < len(buf); i++ {
		sum += math.Abs(float64(buf[i] - buf[i-1]))
	}
	return sum / float64(len(buf)-1)
}

func TestSpectralTilt(t *testing.T) {
	const frames = 48000
	w := Generate(White, frames, 1, seeded())[0]
	p := Generate(Pink, frames, 1, seeded())[0]
	b := Generate(Brown, frames, 1, seeded())[0]

	ws, ps, bs := meanStep(w)/rms(w), meanStep(p)/rms(p), meanStep(b)/rms(b)
	if !(ws > ps && ps > bs) {
		t.Errorf("normalised step white=%.3f pink=%.3f brown=%.3f, want decreasing", ws, ps, bs)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	bufs := Generate(Pink, 1000, 2, seeded())
	same := 0
	for i := range bufs[0] {
		if bufs[0][i] == bufs[1][i] {
			same++
		}
	}
	if same > 10 {
		t.Errorf("%d identical samples across channels", same)
	}
}

func TestProfileFor(t *testing.T) {
	tests := []struct {
		id   string
		want Profile
		ok   bool
	}{
		{"whitenoise", White, true},
		{"rain", Pink, true},
		{"ocean", Brown, true},
		{"forest", Forest, true},
		{"thunder", 0, false},
	}
	for _, tt := range tests {
		got, ok := ProfileFor(tt.id)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ProfileFor(%q) = %v,%v, want %v,%v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
	for _, id := range IDs() {
		if _, ok := ProfileFor(id); !ok {
			t.Errorf("IDs() lists unknown id %q", id)
		}
	}
}

func TestSmoothLoopRemovesSeam(t *testing.T) {
	buf := make([]float32, 1000)
	for i := range buf {
		buf[i] = float32(i) / 1000 // ramp: big step from last to first
	}

	out := SmoothLoop(buf, 100)

	if len(out) != 900 {
		t.Fatalf("len = %d, want 900", len(out))
	}
	seam := math.Abs(float64(out[0] - out[len(out)-1]))
	if seam > 0.002 {
		t.Errorf("seam step = %v, want ~0.001", seam)
	}
}

func TestSmoothLoopShortBufferUnchanged(t *testing.T) {
	buf := []float32{1, 2, 3}
	if out := SmoothLoop(buf, 2); len(out) != 3 {
		t.Errorf("len = %d, want unchanged 3", len(out))
	}
}
