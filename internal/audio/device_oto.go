//go:build !headless

package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/graph"
)

// oto allows a single context per process.
var (
	otoOnce  sync.Once
	otoCtx   *oto.Context
	otoReady chan struct{}
	otoErr   error
)

func sharedContext(bufferSize time.Duration) (*oto.Context, chan struct{}, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		}
		otoCtx, otoReady, otoErr = oto.NewContext(op)
	})
	if otoErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoDevice, otoErr)
	}
	return otoCtx, otoReady, nil
}

type sourceRef struct{ src graph.Source }

// Device plays a graph.Source on the local sound card.
type Device struct {
	bufferSize time.Duration
	log        logrus.FieldLogger

	src       atomic.Pointer[sourceRef] // lock-free for Read
	sampleBuf []float32

	mu     sync.Mutex
	player *oto.Player
}

// NewDevice returns a sound-card output. The device itself is opened on the
// first Open.
func NewDevice(bufferSize time.Duration, log logrus.FieldLogger) *Device {
	return &Device{bufferSize: bufferSize, log: log}
}

// Open waits for the sound card and starts pulling from src.
func (d *Device) Open(ctx context.Context, src graph.Source) error {
	c, ready, err := sharedContext(d.bufferSize)
	if err != nil {
		return err
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.src.Store(&sourceRef{src: src})
	if d.player == nil {
		d.player = c.NewPlayer(d)
		d.player.Play()
		d.log.WithFields(logrus.Fields{
			"sample_rate": SampleRate,
			"buffer":      d.bufferSize,
		}).Info("audio device opened")
	}
	return nil
}

// Read fills p with float32 little-endian samples for oto.
func (d *Device) Read(p []byte) (int, error) {
	ref := d.src.Load()
	if ref == nil {
		clear(p)
		return len(p), nil
	}
	n := len(p) / 4
	if cap(d.sampleBuf) < n {
		d.sampleBuf = make([]float32, n)
	}
	samples := d.sampleBuf[:n]
	ref.src.ReadFloat32s(samples)
	return PutFloat32s(p, samples), nil
}

// Close stops playback. The shared oto context stays alive for later opens.
func (d *Device) Close() error {
	d.src.Store(nil)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	d.log.Info("audio device closed")
	return err
}
