package audio

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/graph"
)

// Pipeline renders an attached source at real-time rate and outputs 20ms PCM
// frames. It implements graph.Output, so a graph.Context opened on it is
// pulled once per frame. Attaching or detaching a source crossfades from the
// previous one instead of switching abruptly. Detaching renders the fade-out
// up front, since a closing source stops producing audio right after.
type Pipeline struct {
	frameCh chan []int16
	fadeDur time.Duration
	log     logrus.FieldLogger

	mu       sync.Mutex
	current  graph.Source
	outgoing graph.Source
	fadePos  int
	emitted  int64
	buf      []float32
	fadeBuf  []float32
	tail     [][]float32 // pre-rendered fade-out of a detached source
}

// NewPipeline creates a pipeline with the given attach/detach fade duration.
func NewPipeline(fadeDuration time.Duration, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		frameCh: make(chan []int16, 100),
		fadeDur: fadeDuration,
		log:     log,
		buf:     make([]float32, FrameSamples),
		fadeBuf: make([]float32, FrameSamples),
		fadePos: -1,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Open attaches src. Frames are pulled from it on the next tick.
func (p *Pipeline) Open(ctx context.Context, src graph.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.outgoing, p.current = p.current, src
	p.fadePos = 0
	p.mu.Unlock()
	p.log.Info("pipeline: source attached")
	return nil
}

// Close detaches the current source. The fade to silence is rendered from
// the source immediately and played out over the following frames.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	src := p.current
	p.current, p.outgoing, p.fadePos = nil, nil, -1

	fadeFrames := int(p.fadeDur / FrameDuration)
	p.tail = p.tail[:0]
	for i := range fadeFrames {
		frame := make([]float32, FrameSamples)
		src.ReadFloat32s(frame)
		gain := float32(1 - Smoothstep(float64(i)/float64(fadeFrames)))
		for j := range frame {
			frame[j] *= gain
		}
		p.tail = append(p.tail, frame)
	}
	p.log.WithField("fade_frames", fadeFrames).Info("pipeline: source detached")
	return nil
}

// Status reports whether a source is attached and how much audio has been
// emitted so far.
func (p *Pipeline) Status() (attached bool, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil, time.Duration(p.emitted) * FrameDuration
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case p.frameCh <- p.nextFrame():
		case <-ctx.Done():
			return
		}
	}
}

// nextFrame renders one frame, blending in the outgoing source while a fade
// is in progress and mixing in any pending fade-out tail.
func (p *Pipeline) nextFrame() []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.emitted++
	render(p.current, p.buf)

	fadeFrames := int(p.fadeDur / FrameDuration)
	if p.fadePos >= 0 && p.fadePos < fadeFrames {
		render(p.outgoing, p.fadeBuf)
		Crossfade(p.buf, p.fadeBuf, p.buf, float64(p.fadePos)/float64(fadeFrames))
		p.fadePos++
	} else {
		p.outgoing = nil
		p.fadePos = -1
	}

	if len(p.tail) > 0 {
		for i, v := range p.tail[0] {
			p.buf[i] += v
		}
		p.tail = p.tail[1:]
	}
	return Float32ToInt16(p.buf)
}

func render(src graph.Source, buf []float32) {
	if src == nil {
		clear(buf)
		return
	}
	src.ReadFloat32s(buf)
}
