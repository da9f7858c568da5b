package graph

import (
	"fmt"
	"math"
)

// Buffer is planar PCM held in memory.
type Buffer struct {
	sampleRate int
	data       [][]float32
}

// NewBuffer wraps planar channel data (one or two equally long channels).
func (c *Context) NewBuffer(data [][]float32) (*Buffer, error) {
	if len(data) < 1 || len(data) > maxChannels {
		return nil, fmt.Errorf("buffer with %d channels: %w", len(data), ErrIndexSize)
	}
	for _, ch := range data[1:] {
		if len(ch) != len(data[0]) {
			return nil, fmt.Errorf("buffer channels differ in length: %w", ErrIndexSize)
		}
	}
	return &Buffer{sampleRate: c.sampleRate, data: data}, nil
}

func (b *Buffer) NumberOfChannels() int { return len(b.data) }
func (b *Buffer) Length() int           { return len(b.data[0]) }
func (b *Buffer) SampleRate() int       { return b.sampleRate }

// Duration in seconds.
func (b *Buffer) Duration() float64 {
	return float64(b.Length()) / float64(b.sampleRate)
}

// Channel returns the samples of channel i.
func (b *Buffer) Channel(i int) []float32 { return b.data[i] }

// BufferSource plays a Buffer once or in a loop.
type BufferSource struct {
	*node
	proc *bufferProc
}

type bufferProc struct {
	buffer *Buffer
	loop   bool
	schedule
	pos   int
	ended bool
}

// NewBufferSource returns a source with no buffer that has not been started.
func (c *Context) NewBufferSource() *BufferSource {
	p := &bufferProc{schedule: schedule{stop: math.Inf(1)}}
	return &BufferSource{node: newNode(c, "buffersource", 0, p), proc: p}
}

// SetBuffer assigns the audio to play.
func (s *BufferSource) SetBuffer(b *Buffer) {
	s.ctx.mu.Lock()
	s.proc.buffer = b
	s.ctx.mu.Unlock()
}

// SetLoop makes playback wrap to the start of the buffer.
func (s *BufferSource) SetLoop(loop bool) {
	s.ctx.mu.Lock()
	s.proc.loop = loop
	s.ctx.mu.Unlock()
}

// Start schedules playback at context time when.
func (s *BufferSource) Start(when float64) error {
	return s.ctx.StartAt(when, s)
}

// Stop schedules the end of playback at context time when.
func (s *BufferSource) Stop(when float64) error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if !s.proc.started {
		return fmt.Errorf("buffer source stop before start: %w", ErrInvalidState)
	}
	s.proc.stop = max(when, s.ctx.currentTimeLocked(), s.proc.start)
	return nil
}

// Playing reports whether the source has started and not yet stopped or run
// out of data.
func (s *BufferSource) Playing() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.proc.started && !s.proc.ended && s.ctx.currentTimeLocked() < s.proc.stop
}

func (s *BufferSource) canStart() error {
	if s.proc.started {
		return fmt.Errorf("buffer source already started: %w", ErrInvalidState)
	}
	return nil
}

func (s *BufferSource) startLocked(when float64) {
	s.proc.started = true
	s.proc.start = when
}

func (p *bufferProc) process(_ []block, out *block, q quantum) {
	if p.buffer == nil || p.buffer.Length() == 0 {
		out.silence()
		return
	}
	out.clear()
	out.channels = p.buffer.NumberOfChannels()
	frames := p.buffer.Length()
	for i := range RenderQuantum {
		if p.ended || !p.active(q.at(i)) {
			continue
		}
		if p.pos >= frames {
			if !p.loop {
				p.ended = true
				continue
			}
			p.pos = 0
		}
		for c := 0; c < out.channels; c++ {
			out.data[c][i] = float64(p.buffer.data[c][p.pos])
		}
		p.pos++
	}
}
