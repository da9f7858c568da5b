//go:build headless

package audio

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/graph"
)

// Device is unavailable in headless builds; Open always fails.
type Device struct{}

func NewDevice(time.Duration, logrus.FieldLogger) *Device { return &Device{} }

func (*Device) Open(context.Context, graph.Source) error { return ErrNoDevice }
func (*Device) Close() error                             { return nil }
