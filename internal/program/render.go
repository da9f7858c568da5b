package program

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/audio"
	"github.com/satindergrewal/binaural/internal/engine"
	"github.com/satindergrewal/binaural/internal/graph"
)

// Format is the WAV format Render writes.
var Format = beep.Format{
	SampleRate:  beep.SampleRate(audio.SampleRate),
	NumChannels: audio.Channels,
	Precision:   audio.BitDepth / 8,
}

type event struct {
	frame int
	apply func(ctx context.Context, eng *engine.Engine) error
}

// streamer plays a program through an offline engine as a beep.Streamer.
type streamer struct {
	ctx    context.Context
	eng    *engine.Engine
	graph  *graph.Context
	events []event
	pos    int
	buf    []float32
	err    error
}

func newStreamer(ctx context.Context, p *Program, log logrus.FieldLogger) *streamer {
	gctx := graph.NewContext(graph.Options{SampleRate: audio.SampleRate})
	s := &streamer{
		ctx:   ctx,
		graph: gctx,
		eng: engine.New(func() (*graph.Context, error) {
			return gctx, nil
		}, log),
	}
	s.events = schedule(p)
	return s
}

// schedule turns the program into frame-stamped engine calls. Steps sort
// before ambient changes at the same frame so the session exists first.
func schedule(p *Program) []event {
	var events []event
	volume := float64(DefaultVolume)
	for i, st := range p.Steps {
		// validated by Parse
		cfg, _ := st.Config(volume)
		volume = cfg.Volume
		first, transition := i == 0, st.Transition
		events = append(events, event{
			frame: Format.SampleRate.N(st.At),
			apply: func(ctx context.Context, eng *engine.Engine) error {
				if first {
					return eng.Start(ctx, cfg)
				}
				return eng.TransitionTo(cfg, transition)
			},
		})
	}
	for _, a := range p.Ambient {
		events = append(events, event{
			frame: Format.SampleRate.N(a.At),
			apply: func(_ context.Context, eng *engine.Engine) error {
				return eng.StartAmbient(a.ID, a.Volume)
			},
		})
		if a.Until > 0 && a.Until < p.Duration {
			events = append(events, event{
				frame: Format.SampleRate.N(a.Until),
				apply: func(_ context.Context, eng *engine.Engine) error {
					eng.StopAmbient(a.ID)
					return nil
				},
			})
		}
	}
	slices.SortStableFunc(events, func(a, b event) int { return a.frame - b.frame })
	return events
}

func (s *streamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if s.err = s.ctx.Err(); s.err != nil {
			return n, n > 0
		}
		for len(s.events) > 0 && s.events[0].frame <= s.pos {
			if err := s.events[0].apply(s.ctx, s.eng); err != nil {
				s.err = err
				return n, n > 0
			}
			s.events = s.events[1:]
		}
		chunk := len(samples) - n
		if len(s.events) > 0 {
			chunk = min(chunk, s.events[0].frame-s.pos)
		}
		if cap(s.buf) < 2*chunk {
			s.buf = make([]float32, 2*chunk)
		}
		buf := s.buf[:2*chunk]
		s.graph.ReadFloat32s(buf)
		for i := range chunk {
			samples[n+i][0] = float64(buf[2*i])
			samples[n+i][1] = float64(buf[2*i+1])
		}
		n += chunk
		s.pos += chunk
	}
	return n, true
}

func (s *streamer) Err() error { return s.err }

// Render plays p through a fresh offline engine and writes it to w as
// 16-bit stereo WAV.
func Render(ctx context.Context, p *Program, w io.WriteSeeker, log logrus.FieldLogger) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s := newStreamer(ctx, p, log)
	defer s.eng.Dispose()

	total := Format.SampleRate.N(p.Duration)
	if err := wav.Encode(w, beep.Take(total, s), Format); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if s.err != nil {
		return fmt.Errorf("render %q: %w", p.Name, s.err)
	}
	return nil
}
