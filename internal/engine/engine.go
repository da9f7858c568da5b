// Package engine synthesises binaural beats: two sine tones a beat frequency
// apart, one per ear, summed with optional ambient noise beds through a master
// gain and an analyser into an output context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/graph"
)

// DefaultTransition is used by TransitionTo for non-positive durations.
const DefaultTransition = 2 * time.Second

// channelGain is the level of each tone before the merger.
const channelGain = 0.5

// Opener creates the output context. It is called lazily and again after a
// failure.
type Opener func() (*graph.Context, error)

// session is the node set of one playback; rebuilt on every Start.
type session struct {
	left, right         *graph.Oscillator
	leftGain, rightGain *graph.Gain
	merger              *graph.ChannelMerger
	master              *graph.Gain
}

// Engine owns the output context and every node playing through it. All
// methods are safe for concurrent use.
type Engine struct {
	open Opener
	log  logrus.FieldLogger

	mu         sync.Mutex
	ctx        *graph.Context
	session    *session
	cfg        BinauralConfig
	analyser   *graph.Analyser
	ambient    map[string]*ambientChannel
	whiteNoise []whiteNoiseLoop
	rng        *rand.Rand
	disposed   bool
}

// New returns an engine that opens its output context through open on first
// use.
func New(open Opener, log logrus.FieldLogger) *Engine {
	return &Engine{
		open:    open,
		log:     log,
		ambient: make(map[string]*ambientChannel),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// contextLocked returns the output context, creating it if needed.
func (e *Engine) contextLocked() (*graph.Context, error) {
	if e.ctx != nil {
		return e.ctx, nil
	}
	c, err := e.open()
	if err != nil {
		e.log.WithError(err).Warn("audio context unavailable")
		return nil, fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	}
	e.ctx = c
	return c, nil
}

// Start begins a session with cfg, replacing any session already playing.
// It blocks only while a suspended output is resumed.
func (e *Engine) Start(ctx context.Context, cfg BinauralConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.clamped()

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	c, err := e.contextLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if c.State() != graph.StateRunning {
		if err := c.Resume(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, graph.ErrClosed) {
				// disposed while waiting for the output
				return ErrDisposed
			}
			e.log.WithError(err).Warn("audio context resume failed")
			return fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	e.stopLocked()
	if err := e.buildLocked(c, cfg); err != nil {
		return err
	}
	e.cfg = cfg
	e.log.WithFields(logrus.Fields{
		"base":   cfg.BaseFrequency,
		"beat":   cfg.BeatFrequency,
		"volume": cfg.Volume,
	}).Info("binaural session started")
	return nil
}

// buildLocked wires osc→gain→merger→master→analyser→destination, moves
// ambient channels onto the new analyser and starts both tones together.
func (e *Engine) buildLocked(c *graph.Context, cfg BinauralConfig) error {
	s := &session{
		left:      c.NewOscillator(),
		right:     c.NewOscillator(),
		leftGain:  c.NewGain(),
		rightGain: c.NewGain(),
		master:    c.NewGain(),
	}
	merger, err := c.NewChannelMerger(2)
	if err != nil {
		return err
	}
	s.merger = merger
	s.left.Frequency().SetValue(cfg.BaseFrequency)
	s.right.Frequency().SetValue(cfg.RightFrequency())
	s.leftGain.Gain().SetValue(channelGain)
	s.rightGain.Gain().SetValue(channelGain)
	s.master.Gain().SetValue(cfg.Volume / 100)
	analyser := c.NewAnalyser()

	err = errors.Join(
		s.left.Connect(s.leftGain),
		s.right.Connect(s.rightGain),
		s.leftGain.ConnectInput(s.merger, 0),
		s.rightGain.ConnectInput(s.merger, 1),
		s.merger.Connect(s.master),
		s.master.Connect(analyser),
		analyser.Connect(c.Destination()),
	)
	if err != nil {
		return fmt.Errorf("wire session: %w", err)
	}

	if e.analyser != nil {
		e.analyser.Disconnect()
	}
	e.analyser = analyser
	for id, ch := range e.ambient {
		ch.gain.Disconnect()
		if err := ch.gain.Connect(analyser); err != nil {
			e.log.WithError(err).WithField("ambient", id).Warn("ambient re-route failed")
		}
	}

	if err := c.StartAt(c.CurrentTime(), s.left, s.right); err != nil {
		return fmt.Errorf("start oscillators: %w", err)
	}
	e.session = s
	return nil
}

// Stop ends the current session. Calling it while stopped does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		e.log.Debug("stop: no session")
		return
	}
	e.stopLocked()
	e.log.Info("binaural session stopped")
}

func (e *Engine) stopLocked() {
	s := e.session
	if s == nil {
		return
	}
	// both were started together, so Stop cannot fail
	_ = s.left.Stop(0)
	_ = s.right.Stop(0)
	for _, n := range []interface{ Disconnect() }{s.left, s.right, s.leftGain, s.rightGain, s.merger, s.master} {
		n.Disconnect()
	}
	e.session = nil
}

// SetVolume sets the master level in percent, clamped to 0-100. It applies
// immediately and does nothing while stopped.
func (e *Engine) SetVolume(percent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	v := ClampVolume(percent)
	e.session.master.Gain().SetValueAtTime(v/100, e.ctx.CurrentTime())
	e.cfg.Volume = v
}

// TransitionTo glides both tones and the master level towards cfg. The glide
// is exponential with a time-constant of a third of d, so it is ~95% complete
// after d. Without a session it does nothing, whatever cfg holds.
func (e *Engine) TransitionTo(cfg BinauralConfig, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		e.log.Debug("transition: no session")
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.clamped()
	if d <= 0 {
		d = DefaultTransition
	}
	now := e.ctx.CurrentTime()
	tau := d.Seconds() / 3
	e.session.left.Frequency().SetTargetAtTime(cfg.BaseFrequency, now, tau)
	e.session.right.Frequency().SetTargetAtTime(cfg.RightFrequency(), now, tau)
	e.session.master.Gain().SetTargetAtTime(cfg.Volume/100, now, tau)
	e.cfg = cfg
	e.log.WithFields(logrus.Fields{
		"base":     cfg.BaseFrequency,
		"beat":     cfg.BeatFrequency,
		"volume":   cfg.Volume,
		"duration": d,
	}).Info("binaural transition")
	return nil
}

// Dispose closes the output context and tears the graph down. The context is
// closed first so an output can still render its fade-out from the live
// graph. The engine cannot be used afterwards.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true

	var err error
	if e.ctx != nil {
		err = e.ctx.Close()
	}
	e.stopLocked()
	for id := range e.ambient {
		e.stopAmbientLocked(id)
	}
	e.stopWhiteNoiseLocked()
	if e.analyser != nil {
		e.analyser.Disconnect()
		e.analyser = nil
	}
	e.log.Info("engine disposed")
	return err
}

// IsPlaying reports whether a session is active.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Config returns the most recent session configuration and whether a
// session is active.
func (e *Engine) Config() (BinauralConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.session != nil
}

// State is "unavailable" until the output context exists and after Dispose,
// otherwise the context state.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.disposed {
		return "unavailable"
	}
	return e.ctx.State().String()
}

// CurrentTime is the output context clock in seconds, or 0 before the
// context exists.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return 0
	}
	return e.ctx.CurrentTime()
}
