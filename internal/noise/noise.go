// Package noise synthesises looping ambient noise beds.
package noise

import (
	"fmt"
	"math/rand/v2"

	"github.com/satindergrewal/binaural/internal/audio"
)

// Seconds is the length of every ambient loop.
const Seconds = 2

// Profile is the spectral colour of a noise bed.
type Profile int

const (
	White Profile = iota
	Pink
	Brown
	Forest
)

func (p Profile) String() string {
	switch p {
	case White:
		return "white"
	case Pink:
		return "pink"
	case Brown:
		return "brown"
	case Forest:
		return "forest"
	}
	return fmt.Sprintf("Profile(%d)", int(p))
}

var profiles = map[string]Profile{
	"whitenoise": White,
	"rain":       Pink,
	"ocean":      Brown,
	"forest":     Forest,
}

// ProfileFor maps an ambient channel id to its profile.
func ProfileFor(id string) (Profile, bool) {
	p, ok := profiles[id]
	return p, ok
}

// IDs returns the known ambient channel ids.
func IDs() []string {
	return []string{"forest", "ocean", "rain", "whitenoise"}
}

// Generate fills channels buffers of frames samples each. Every channel runs
// its own filter state; all samples lie in [-1, 1].
func Generate(p Profile, frames, channels int, rng *rand.Rand) [][]float32 {
	out := make([][]float32, channels)
	for c := range out {
		buf := make([]float32, frames)
		var gen func() float64
		switch p {
		case Pink:
			gen = newPink(rng).next
		case Brown:
			gen = newBrown(rng).next
		case Forest:
			gen = func() float64 { return 0.5 * white(rng) }
		default:
			gen = func() float64 { return white(rng) }
		}
		for i := range buf {
			buf[i] = float32(clamp(gen()))
		}
		out[c] = buf
	}
	return out
}

func white(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

func clamp(v float64) float64 {
	return max(-1, min(1, v))
}

// pink is Paul Kellett's refined 1/f filter.
type pink struct {
	rng                        *rand.Rand
	b0, b1, b2, b3, b4, b5, b6 float64
}

func newPink(rng *rand.Rand) *pink { return &pink{rng: rng} }

func (f *pink) next() float64 {
	w := white(f.rng)
	f.b0 = 0.99886*f.b0 + w*0.0555179
	f.b1 = 0.99332*f.b1 + w*0.0750759
	f.b2 = 0.96900*f.b2 + w*0.1538520
	f.b3 = 0.86650*f.b3 + w*0.3104856
	f.b4 = 0.55000*f.b4 + w*0.5329522
	f.b5 = -0.7616*f.b5 - w*0.0168980
	out := (f.b0 + f.b1 + f.b2 + f.b3 + f.b4 + f.b5 + f.b6 + w*0.5362) * 0.11
	f.b6 = w * 0.115926
	return out
}

// brown is leaky-integrated white noise.
type brown struct {
	rng  *rand.Rand
	last float64
}

func newBrown(rng *rand.Rand) *brown { return &brown{rng: rng} }

func (f *brown) next() float64 {
	f.last = (f.last + 0.02*white(f.rng)) / 1.02
	return f.last * 3.5
}

// SmoothLoop crossfades the last fadeFrames samples of buf into its first
// fadeFrames so that playing it in a loop has no step at the seam. The
// buffer shrinks by fadeFrames; the returned slice aliases buf.
func SmoothLoop(buf []float32, fadeFrames int) []float32 {
	if fadeFrames <= 0 || 2*fadeFrames > len(buf) {
		return buf
	}
	n := len(buf) - fadeFrames
	tail := buf[n:]
	for i := range fadeFrames {
		w := audio.Smoothstep(float64(i) / float64(fadeFrames))
		buf[i] = float32(float64(tail[i])*(1-w) + float64(buf[i])*w)
	}
	return buf[:n]
}
