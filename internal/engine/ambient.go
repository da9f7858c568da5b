package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/graph"
	"github.com/satindergrewal/binaural/internal/noise"
)

// DefaultWhiteNoise is the legacy white-noise level.
const DefaultWhiteNoise = 0.1

// loopFade is the seam crossfade of ambient loops, in seconds.
const loopFade = 0.05

type ambientChannel struct {
	source  *graph.BufferSource
	gain    *graph.Gain
	profile noise.Profile
}

// StartAmbient starts a looping noise bed at volume (0-1). Starting a channel
// that is already playing does nothing, as does starting one before the
// output context exists.
func (e *Engine) StartAmbient(id string, volume float64) error {
	profile, ok := noise.ProfileFor(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAmbient, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.log.WithField("ambient", id)
	if e.ctx == nil || e.disposed {
		log.Debug("ambient: audio unavailable")
		return nil
	}
	if _, ok := e.ambient[id]; ok {
		log.Debug("ambient: already playing")
		return nil
	}

	src, err := e.noiseSourceLocked(profile, 2)
	if err != nil {
		return err
	}
	gain := e.ctx.NewGain()
	gain.Gain().SetValue(clampUnit(volume))
	var dst graph.Node = e.ctx.Destination()
	if e.analyser != nil {
		dst = e.analyser
	}
	if err := src.Connect(gain); err != nil {
		return err
	}
	if err := gain.Connect(dst); err != nil {
		return err
	}
	if err := src.Start(0); err != nil {
		return err
	}
	e.ambient[id] = &ambientChannel{source: src, gain: gain, profile: profile}
	log.WithFields(logrus.Fields{
		"profile": profile,
		"volume":  clampUnit(volume),
	}).Info("ambient started")
	return nil
}

// noiseSourceLocked builds a looping source over a fresh noise buffer.
func (e *Engine) noiseSourceLocked(p noise.Profile, channels int) (*graph.BufferSource, error) {
	frames := noise.Seconds * e.ctx.SampleRate()
	fade := int(loopFade * float64(e.ctx.SampleRate()))
	data := noise.Generate(p, frames+fade, channels, e.rng)
	for c := range data {
		data[c] = noise.SmoothLoop(data[c], fade)
	}
	buf, err := e.ctx.NewBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("noise buffer: %w", err)
	}
	src := e.ctx.NewBufferSource()
	src.SetBuffer(buf)
	src.SetLoop(true)
	return src, nil
}

// StopAmbient stops a channel if it is playing.
func (e *Engine) StopAmbient(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopAmbientLocked(id) {
		e.log.WithField("ambient", id).Info("ambient stopped")
	}
}

func (e *Engine) stopAmbientLocked(id string) bool {
	ch, ok := e.ambient[id]
	if !ok {
		return false
	}
	_ = ch.source.Stop(0)
	ch.source.Disconnect()
	ch.gain.Disconnect()
	delete(e.ambient, id)
	return true
}

// SetAmbientVolume sets a playing channel's level (0-1) immediately.
func (e *Engine) SetAmbientVolume(id string, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.ambient[id]
	if !ok {
		return
	}
	ch.gain.Gain().SetValueAtTime(clampUnit(volume), e.ctx.CurrentTime())
}

// IsAmbientPlaying reports whether the channel is active.
func (e *Engine) IsAmbientPlaying(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.ambient[id]
	return ok
}

// AmbientChannels lists the active channel ids in order.
func (e *Engine) AmbientChannels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.ambient))
}

// whiteNoiseLoop is a legacy white-noise layer added outside the mixer.
type whiteNoiseLoop struct {
	source *graph.BufferSource
	gain   *graph.Gain
}

func (l whiteNoiseLoop) disconnect() {
	l.source.Disconnect()
	l.gain.Disconnect()
}

// AddWhiteNoise plays a mono white-noise loop at intensity (0-1) straight to
// the output and returns its source, or nil before the output context
// exists. Loops the caller has stopped are released on the next call;
// StopWhiteNoise and Dispose stop any still running.
func (e *Engine) AddWhiteNoise(intensity float64) *graph.BufferSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.disposed {
		return nil
	}
	e.pruneWhiteNoiseLocked()

	src, err := e.noiseSourceLocked(noise.White, 1)
	if err != nil {
		e.log.WithError(err).Warn("white noise")
		return nil
	}
	gain := e.ctx.NewGain()
	gain.Gain().SetValue(clampUnit(intensity))
	err = src.Connect(gain)
	if err == nil {
		err = gain.Connect(e.ctx.Destination())
	}
	if err == nil {
		err = src.Start(0)
	}
	if err != nil {
		whiteNoiseLoop{src, gain}.disconnect()
		e.log.WithError(err).Warn("white noise")
		return nil
	}
	e.whiteNoise = append(e.whiteNoise, whiteNoiseLoop{src, gain})
	e.log.WithFields(logrus.Fields{
		"intensity": intensity,
		"loops":     len(e.whiteNoise),
	}).Info("white noise added")
	return src
}

// StopWhiteNoise stops every loop started by AddWhiteNoise.
func (e *Engine) StopWhiteNoise() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := e.stopWhiteNoiseLocked(); n > 0 {
		e.log.WithField("loops", n).Info("white noise stopped")
	}
}

// WhiteNoiseLoops returns the number of playing white-noise loops.
func (e *Engine) WhiteNoiseLoops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneWhiteNoiseLocked()
	return len(e.whiteNoise)
}

func (e *Engine) stopWhiteNoiseLocked() int {
	n := len(e.whiteNoise)
	for _, l := range e.whiteNoise {
		_ = l.source.Stop(0)
		l.disconnect()
	}
	e.whiteNoise = nil
	return n
}

func (e *Engine) pruneWhiteNoiseLocked() {
	e.whiteNoise = slices.DeleteFunc(e.whiteNoise, func(l whiteNoiseLoop) bool {
		if l.source.Playing() {
			return false
		}
		l.disconnect()
		return true
	})
}
