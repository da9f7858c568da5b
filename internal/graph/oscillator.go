package graph

import (
	"fmt"
	"math"
)

// Oscillator is a sine source with an a-rate frequency parameter. It plays
// from its start time until its stop time and cannot be restarted.
type Oscillator struct {
	*node
	frequency *Param
	proc      *oscillatorProc
}

type oscillatorProc struct {
	frequency *Param
	schedule
	phase float64
	freqs [RenderQuantum]float64
}

// schedule is the single-shot start/stop window shared by source nodes.
type schedule struct {
	started bool
	start   float64
	stop    float64
}

func (s *schedule) active(t float64) bool {
	return s.started && t >= s.start && t < s.stop
}

// NewOscillator returns a 440 Hz sine oscillator that has not been started.
func (c *Context) NewOscillator() *Oscillator {
	p := &oscillatorProc{schedule: schedule{stop: math.Inf(1)}}
	p.frequency = newParam(c, "frequency", 440)
	return &Oscillator{
		node:      newNode(c, "oscillator", 0, p),
		frequency: p.frequency,
		proc:      p,
	}
}

// Frequency is the oscillator frequency in Hz.
func (o *Oscillator) Frequency() *Param { return o.frequency }

// Start schedules playback at context time when.
func (o *Oscillator) Start(when float64) error {
	return o.ctx.StartAt(when, o)
}

// Stop schedules the end of playback at context time when.
func (o *Oscillator) Stop(when float64) error {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	if !o.proc.started {
		return fmt.Errorf("oscillator stop before start: %w", ErrInvalidState)
	}
	o.proc.stop = max(when, o.ctx.currentTimeLocked(), o.proc.start)
	return nil
}

func (o *Oscillator) canStart() error {
	if o.proc.started {
		return fmt.Errorf("oscillator already started: %w", ErrInvalidState)
	}
	return nil
}

func (o *Oscillator) startLocked(when float64) {
	o.proc.started = true
	o.proc.start = when
}

func (p *oscillatorProc) process(_ []block, out *block, q quantum) {
	p.frequency.fill(p.freqs[:], q)
	out.channels = 1
	for i := range RenderQuantum {
		if !p.active(q.at(i)) {
			out.data[0][i] = 0
			continue
		}
		out.data[0][i] = math.Sin(2 * math.Pi * p.phase)
		p.phase += p.freqs[i] * q.dt
		p.phase -= math.Floor(p.phase)
	}
}
