package audio

import "errors"

// ErrNoDevice means no sound card output could be opened.
var ErrNoDevice = errors.New("audio: no output device")
