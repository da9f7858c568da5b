package engine

import (
	"fmt"
	"math"
	"strings"
)

// BinauralConfig describes one binaural session. The left ear hears
// BaseFrequency, the right ear BaseFrequency+BeatFrequency.
type BinauralConfig struct {
	BaseFrequency float64 `json:"base_frequency"`
	BeatFrequency float64 `json:"beat_frequency"`
	Volume        float64 `json:"volume"` // percent, 0-100
}

// Validate rejects configurations that cannot be synthesised. Volume is not
// checked; it is clamped when applied.
func (c BinauralConfig) Validate() error {
	if !(c.BaseFrequency > 0) || math.IsInf(c.BaseFrequency, 0) {
		return fmt.Errorf("%w: base frequency %v must be positive", ErrInvalidConfig, c.BaseFrequency)
	}
	if !(c.BeatFrequency >= 0) || math.IsInf(c.BeatFrequency, 0) {
		return fmt.Errorf("%w: beat frequency %v must not be negative", ErrInvalidConfig, c.BeatFrequency)
	}
	return nil
}

// RightFrequency is the tone played to the right ear.
func (c BinauralConfig) RightFrequency() float64 {
	return c.BaseFrequency + c.BeatFrequency
}

func (c BinauralConfig) clamped() BinauralConfig {
	c.Volume = ClampVolume(c.Volume)
	return c
}

// ClampVolume limits a percentage to 0-100. NaN becomes 0.
func ClampVolume(percent float64) float64 {
	if math.IsNaN(percent) {
		return 0
	}
	return max(0, min(100, percent))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}

// Preset is a named base/beat pair targeting one brainwave band.
type Preset struct {
	Name          string  `json:"name"`
	BaseFrequency float64 `json:"base_frequency"`
	BeatFrequency float64 `json:"beat_frequency"`
	Band          string  `json:"band"`
	Description   string  `json:"description"`
}

// Config builds a session configuration at the given volume.
func (p Preset) Config(volume float64) BinauralConfig {
	return BinauralConfig{
		BaseFrequency: p.BaseFrequency,
		BeatFrequency: p.BeatFrequency,
		Volume:        volume,
	}
}

var presets = []Preset{
	{"DELTA", 200, 2, "0.5-4 Hz", "Deep sleep"},
	{"THETA", 200, 6, "4-8 Hz", "Meditation"},
	{"ALPHA", 200, 10, "8-12 Hz", "Relaxation"},
	{"BETA", 200, 20, "13-30 Hz", "Focus"},
	{"GAMMA", 200, 40, "30-100 Hz", "Cognitive enhancement"},
}

// Presets returns the preset table, slowest band first.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// LookupPreset finds a preset by name, ignoring case.
func LookupPreset(name string) (Preset, bool) {
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}
