package engine

import "errors"

var (
	// ErrAudioUnavailable means the output context could not be created or
	// resumed, typically missing device permission or no sound card. Start
	// may be retried.
	ErrAudioUnavailable = errors.New("engine: audio output unavailable")
	ErrDisposed         = errors.New("engine: disposed")
	ErrInvalidConfig    = errors.New("engine: invalid config")
	ErrUnknownAmbient   = errors.New("engine: unknown ambient channel")
)
