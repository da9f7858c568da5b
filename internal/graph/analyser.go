package graph

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	DefaultFFTSize   = 2048
	DefaultSmoothing = 0.8
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
)

// Analyser passes audio through unchanged while keeping the most recent
// fftSize frames of its mono down-mix for spectrum and waveform snapshots.
type Analyser struct {
	*node
	proc *analyserProc
}

type analyserProc struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	ring     []float64
	pos      int
	mono     [RenderQuantum]float64
	window   []float64
	smoothed []float64
	frame    []float64
}

// NewAnalyser returns an analyser with a 2048-point FFT, 0.8 smoothing and a
// -100..-30 dB byte range.
func (c *Context) NewAnalyser() *Analyser {
	p := &analyserProc{
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
	}
	p.resize(DefaultFFTSize)
	return &Analyser{node: newNode(c, "analyser", 1, p), proc: p}
}

func (p *analyserProc) resize(n int) {
	p.fftSize = n
	p.ring = make([]float64, n)
	p.pos = 0
	p.window = window.Blackman(n)
	p.smoothed = make([]float64, n/2)
	p.frame = make([]float64, n)
}

// SetFFTSize changes the window length; n must be a power of two in
// [32, 32768]. History and smoothing state are reset.
func (a *Analyser) SetFFTSize(n int) error {
	if n < 32 || n > 32768 || n&(n-1) != 0 {
		return fmt.Errorf("fft size %d: %w", n, ErrIndexSize)
	}
	a.ctx.mu.Lock()
	a.proc.resize(n)
	a.ctx.mu.Unlock()
	return nil
}

// SetSmoothingTimeConstant sets the averaging factor in [0, 1].
func (a *Analyser) SetSmoothingTimeConstant(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("smoothing %v: %w", v, ErrIndexSize)
	}
	a.ctx.mu.Lock()
	a.proc.smoothing = v
	a.ctx.mu.Unlock()
	return nil
}

func (a *Analyser) FFTSize() int {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	return a.proc.fftSize
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return a.FFTSize() / 2
}

// FloatFrequencyData returns the smoothed magnitude spectrum in dB.
func (a *Analyser) FloatFrequencyData() []float64 {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	a.proc.analyse()
	out := make([]float64, len(a.proc.smoothed))
	for k, m := range a.proc.smoothed {
		out[k] = 20 * math.Log10(m)
	}
	return out
}

// ByteFrequencyData returns the smoothed spectrum with minDB..maxDB mapped
// linearly onto 0..255.
func (a *Analyser) ByteFrequencyData() []byte {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	p := a.proc
	p.analyse()
	out := make([]byte, len(p.smoothed))
	span := p.maxDB - p.minDB
	for k, m := range p.smoothed {
		db := 20 * math.Log10(m)
		out[k] = clampByte(255 * (db - p.minDB) / span)
	}
	return out
}

// ByteTimeDomainData returns the last fftSize samples as 128·(1+x).
func (a *Analyser) ByteTimeDomainData() []byte {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	p := a.proc
	out := make([]byte, p.fftSize)
	for i := range out {
		x := p.ring[(p.pos+i)%p.fftSize]
		out[i] = clampByte(128 * (1 + x))
	}
	return out
}

func clampByte(v float64) byte {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

// analyse runs one windowed FFT over the history and folds it into the
// smoothed magnitudes.
func (p *analyserProc) analyse() {
	n := p.fftSize
	for i := range p.frame {
		p.frame[i] = p.ring[(p.pos+i)%n] * p.window[i]
	}
	spectrum := fft.FFTReal(p.frame)
	for k := range p.smoothed {
		mag := cmplx.Abs(spectrum[k]) / float64(n)
		p.smoothed[k] = p.smoothing*p.smoothed[k] + (1-p.smoothing)*mag
	}
}

func (p *analyserProc) process(in []block, out *block, _ quantum) {
	*out = in[0]
	in[0].mono(&p.mono)
	for _, x := range p.mono {
		p.ring[p.pos] = x
		p.pos = (p.pos + 1) % p.fftSize
	}
	if out.channels == 0 {
		out.silence()
	}
}
