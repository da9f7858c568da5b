package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/binaural/internal/api"
	"github.com/satindergrewal/binaural/internal/audio"
	"github.com/satindergrewal/binaural/internal/config"
	"github.com/satindergrewal/binaural/internal/engine"
	"github.com/satindergrewal/binaural/internal/graph"
	"github.com/satindergrewal/binaural/internal/stream"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	log.SetLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("binaurald stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	mux := http.NewServeMux()

	var output graph.Output
	switch cfg.Output {
	case config.OutputDevice:
		output = audio.NewDevice(cfg.DeviceBuffer, log)
		log.WithField("buffer", cfg.DeviceBuffer).Info("output: local sound card")

	default:
		// Real-time render loop feeding HTTP and WebRTC listeners.
		pipeline := audio.NewPipeline(cfg.FadeDuration, log)
		broadcaster := stream.NewBroadcaster(log)
		webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate, log)
		output = pipeline
		defer webrtcHandler.Close()

		g.Go(func() error {
			pipeline.Run(ctx)
			return nil
		})
		g.Go(func() error {
			broadcaster.Run(ctx, pipeline.Frames())
			return nil
		})

		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.MP3Bitrate, log))
		mux.Handle("/offer", webrtcHandler)
		mux.HandleFunc("/api/listeners", func(w http.ResponseWriter, r *http.Request) {
			attached, elapsed := pipeline.Status()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"attached":         attached,
				"streamed":         elapsed.Seconds(),
				"http_listeners":   broadcaster.ListenerCount(),
				"webrtc_listeners": webrtcHandler.PeerCount(),
			})
		})
		log.WithField("mp3_bitrate", cfg.MP3Bitrate).Info("output: stream")
	}

	eng := engine.New(func() (*graph.Context, error) {
		return graph.NewContext(graph.Options{SampleRate: audio.SampleRate, Output: output}), nil
	}, log)
	defer func() {
		if err := eng.Dispose(); err != nil {
			log.WithError(err).Warn("dispose engine")
		}
	}()

	api.New(eng, api.Defaults{Volume: cfg.Volume, Transition: cfg.Transition}, log).Register(mux)
	mux.Handle("/ws/visualizer", stream.NewVisualizerHandler(eng, cfg.VisualizerFPS, log))

	if cfg.AutoStart {
		if err := autoStart(ctx, eng, cfg); err != nil {
			// The API can still start a session once the output is available.
			log.WithError(err).Warn("autostart failed")
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("binaurald listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func autoStart(ctx context.Context, eng *engine.Engine, cfg config.Config) error {
	preset, ok := engine.LookupPreset(cfg.Preset)
	if !ok {
		return fmt.Errorf("%w: unknown preset %q", engine.ErrInvalidConfig, cfg.Preset)
	}
	return eng.Start(ctx, preset.Config(cfg.Volume))
}
