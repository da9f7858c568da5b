// Package program describes timed binaural sessions in YAML and renders them
// offline to WAV.
//
// A program is a list of steps, each switching to a preset or explicit
// frequencies at a point in time, plus ambient beds with their own start and
// stop times:
//
//	name: wind down
//	duration: 20m
//	steps:
//	  - at: 0s
//	    preset: alpha
//	    volume: 70
//	  - at: 10m
//	    preset: theta
//	    transition: 30s
//	ambient:
//	  - id: rain
//	    volume: 0.3
//	    at: 1m
package program

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/binaural/internal/engine"
	"github.com/satindergrewal/binaural/internal/noise"
)

// DefaultVolume applies when no step has set a volume yet.
const DefaultVolume = 75

var ErrInvalidProgram = errors.New("invalid program")

type Program struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
	Steps    []Step        `yaml:"steps"`
	Ambient  []Ambient     `yaml:"ambient"`
}

// Step changes the session at At. The first step starts it; later steps
// glide over Transition (engine default when zero).
type Step struct {
	At            time.Duration `yaml:"at"`
	Preset        string        `yaml:"preset"`
	BaseFrequency float64       `yaml:"base_frequency"`
	BeatFrequency float64       `yaml:"beat_frequency"`
	Volume        *float64      `yaml:"volume"`
	Transition    time.Duration `yaml:"transition"`
}

// Ambient plays a noise bed from At until Until (end of program when zero).
type Ambient struct {
	ID     string        `yaml:"id"`
	Volume float64       `yaml:"volume"`
	At     time.Duration `yaml:"at"`
	Until  time.Duration `yaml:"until"`
}

// Load reads and validates a program file.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML program.
func Parse(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProgram, fmt.Sprintf(format, args...))
}

// Validate checks timing and references.
func (p *Program) Validate() error {
	if p.Duration <= 0 {
		return invalid("duration must be positive")
	}
	if len(p.Steps) == 0 {
		return invalid("at least one step is required")
	}
	if p.Steps[0].At != 0 {
		return invalid("first step must be at 0s, got %v", p.Steps[0].At)
	}
	volume := float64(DefaultVolume)
	for i, s := range p.Steps {
		if i > 0 && s.At <= p.Steps[i-1].At {
			return invalid("step %d at %v is not after step %d", i, s.At, i-1)
		}
		if s.At >= p.Duration {
			return invalid("step %d at %v is past the end", i, s.At)
		}
		if s.Transition < 0 {
			return invalid("step %d has a negative transition", i)
		}
		cfg, err := s.Config(volume)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		volume = cfg.Volume
	}
	for i, a := range p.Ambient {
		if _, ok := noise.ProfileFor(a.ID); !ok {
			return invalid("ambient %d: unknown channel %q", i, a.ID)
		}
		if a.Volume < 0 || a.Volume > 1 {
			return invalid("ambient %d: volume %v outside 0-1", i, a.Volume)
		}
		if a.At < 0 || a.At >= p.Duration {
			return invalid("ambient %d: start %v outside the program", i, a.At)
		}
		if a.Until != 0 && a.Until <= a.At {
			return invalid("ambient %d: until %v is not after %v", i, a.Until, a.At)
		}
	}
	return nil
}

// Config resolves the step against the volume in effect before it.
func (s Step) Config(volume float64) (engine.BinauralConfig, error) {
	if s.Volume != nil {
		volume = *s.Volume
	}
	var cfg engine.BinauralConfig
	if s.Preset != "" {
		preset, ok := engine.LookupPreset(s.Preset)
		if !ok {
			return cfg, invalid("unknown preset %q", s.Preset)
		}
		cfg = preset.Config(volume)
	} else {
		cfg = engine.BinauralConfig{
			BaseFrequency: s.BaseFrequency,
			BeatFrequency: s.BeatFrequency,
			Volume:        volume,
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}
	return cfg, nil
}
