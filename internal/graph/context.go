// Package graph is a small pull-based audio node graph: oscillators, gains,
// a channel merger, an analyser and looping buffer sources feeding a stereo
// destination, with sample-accurate parameter automation.
//
// A Context owns the graph and its clock. The clock advances only while the
// context is running and only as frames are pulled through ReadFloat32s, by
// an Output driver or directly in offline use.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultSampleRate is used when Options.SampleRate is zero.
const DefaultSampleRate = 48000

var (
	ErrClosed       = errors.New("graph: context closed")
	ErrInvalidState = errors.New("graph: invalid state")
	ErrIndexSize    = errors.New("graph: index out of range")
	ErrInvalidNode  = errors.New("graph: invalid node")
)

// State is the lifecycle state of a Context.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Source produces interleaved stereo float32 frames.
type Source interface {
	ReadFloat32s(buf []float32)
}

// Output drives a Source in real time, e.g. a sound card or a network stream.
// Open returns once the output is ready to pull frames.
type Output interface {
	Open(ctx context.Context, src Source) error
	Close() error
}

// Options configures a Context.
type Options struct {
	SampleRate int
	// Output is opened on the first Resume. Nil means offline: the caller
	// renders by calling ReadFloat32s itself.
	Output Output
}

// Context owns an audio graph and its render clock.
type Context struct {
	mu         sync.Mutex
	resumeMu   sync.Mutex
	sampleRate int
	output     Output
	opened     bool
	closing    bool
	state      State
	frames     int64
	quanta     int64
	dest       *Destination

	carry    [RenderQuantum * maxChannels]float32
	carryPos int
	carryLen int
}

// NewContext returns a suspended context.
func NewContext(opts Options) *Context {
	sr := opts.SampleRate
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	c := &Context{sampleRate: sr, output: opts.Output, state: StateSuspended}
	c.dest = &Destination{node: newNode(c, "destination", 1, destinationProc{})}
	return c
}

// SampleRate returns frames per second.
func (c *Context) SampleRate() int { return c.sampleRate }

// Destination is the final node; whatever reaches it is rendered.
func (c *Context) Destination() *Destination { return c.dest }

// State returns the lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTime returns the context time in seconds of the next frame to render.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTimeLocked()
}

func (c *Context) currentTimeLocked() float64 {
	return float64(c.frames) / float64(c.sampleRate)
}

// Resume moves the context to running, opening the Output on first use.
// It blocks until the output is ready or ctx is done.
func (c *Context) Resume(ctx context.Context) error {
	c.resumeMu.Lock()
	defer c.resumeMu.Unlock()

	c.mu.Lock()
	switch {
	case c.state == StateClosed || c.closing:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateRunning:
		c.mu.Unlock()
		return nil
	}
	out, open := c.output, !c.opened && c.output != nil
	c.mu.Unlock()

	if open {
		if err := out.Open(ctx, c); err != nil {
			return fmt.Errorf("graph: open output: %w", err)
		}
	}

	c.mu.Lock()
	if c.state == StateClosed || c.closing {
		c.mu.Unlock()
		if open {
			// closed while the output was opening
			_ = out.Close()
		}
		return ErrClosed
	}
	defer c.mu.Unlock()
	c.opened = c.opened || open
	c.state = StateRunning
	return nil
}

// Suspend freezes the clock; rendering yields silence until Resume.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateSuspended
	return nil
}

// Close releases the output. A closed context cannot be resumed. The output
// is closed before the state changes, so it may still pull a fade-out from
// the graph while it shuts down.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	out, opened := c.output, c.opened
	c.mu.Unlock()

	var err error
	if out != nil && opened {
		err = out.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return err
}

// ReadFloat32s fills buf with interleaved stereo samples rendered from the
// graph. While the context is not running buf is zeroed and the clock does
// not move.
func (c *Context) ReadFloat32s(buf []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		clear(buf)
		return
	}
	for i := 0; i < len(buf); {
		if c.carryPos >= c.carryLen {
			c.renderLocked()
		}
		n := copy(buf[i:], c.carry[c.carryPos:c.carryLen])
		i += n
		c.carryPos += n
	}
}

func (c *Context) renderLocked() {
	q := quantum{
		index: c.quanta,
		time:  c.currentTimeLocked(),
		dt:    1 / float64(c.sampleRate),
	}
	b := c.dest.pull(q)
	for i := range RenderQuantum {
		c.carry[2*i] = float32(b.data[0][i])
		c.carry[2*i+1] = float32(b.data[1][i])
	}
	c.carryPos, c.carryLen = 0, len(c.carry)
	c.frames += RenderQuantum
	c.quanta++
}

// Render pulls frames through the graph, discarding the output. Offline
// callers use it to advance the clock.
func (c *Context) Render(frames int) {
	buf := make([]float32, 2*RenderQuantum)
	for frames > 0 {
		n := min(frames, RenderQuantum)
		c.ReadFloat32s(buf[:2*n])
		frames -= n
	}
}

// StartAt starts every source at the same context time. A when earlier than
// the current time means now. Either all sources start or none does.
func (c *Context) StartAt(when float64, sources ...Scheduled) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := c.currentTimeLocked(); when < now {
		when = now
	}
	for _, s := range sources {
		if err := s.canStart(); err != nil {
			return err
		}
	}
	for _, s := range sources {
		s.startLocked(when)
	}
	return nil
}

// Scheduled is a source node with a single-shot start.
type Scheduled interface {
	Node
	canStart() error
	startLocked(when float64)
}

// Destination mixes its input to stereo for the output.
type Destination struct {
	*node
}

type destinationProc struct{}

func (destinationProc) process(in []block, out *block, _ quantum) {
	*out = in[0]
	switch out.channels {
	case 0:
		out.channels = 2
	case 1:
		out.data[1] = out.data[0]
		out.channels = 2
	}
}
