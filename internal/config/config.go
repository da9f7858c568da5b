package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Output modes.
const (
	OutputStream = "stream" // render in real time to HTTP/WebRTC listeners
	OutputDevice = "device" // play on the local sound card
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Audio output
	Output       string        // stream or device
	DeviceBuffer time.Duration // sound card buffer length
	FadeDuration time.Duration // pipeline attach/detach fade

	// Session defaults
	Preset     string
	Volume     float64 // percent
	Transition time.Duration
	AutoStart  bool

	// Consumers
	VisualizerFPS int
	OpusBitrate   int    // bits per second
	MP3Bitrate    string // ffmpeg -b:a value

	LogLevel logrus.Level
}

// Load reads configuration from environment variables with sane defaults.
// Variables from a .env file (BINAURAL_ENV_FILE, default ".env") fill in
// anything the environment leaves unset; a missing file is not an error.
func Load() (Config, error) {
	envFile := envStr("BINAURAL_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	level, err := logrus.ParseLevel(envStr("BINAURAL_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: envInt("BINAURAL_PORT", 8080),

		Output:       strings.ToLower(envStr("BINAURAL_OUTPUT", OutputStream)),
		DeviceBuffer: time.Duration(envInt("BINAURAL_DEVICE_BUFFER_MS", 50)) * time.Millisecond,
		FadeDuration: time.Duration(envInt("BINAURAL_FADE_MS", 200)) * time.Millisecond,

		Preset:     envStr("BINAURAL_PRESET", "ALPHA"),
		Volume:     envFloat("BINAURAL_VOLUME", 75),
		Transition: envDuration("BINAURAL_TRANSITION", 2*time.Second),
		AutoStart:  envBool("BINAURAL_AUTOSTART", false),

		VisualizerFPS: envInt("BINAURAL_VISUALIZER_FPS", 30),
		OpusBitrate:   envInt("BINAURAL_OPUS_BITRATE", 128000),
		MP3Bitrate:    envStr("BINAURAL_MP3_BITRATE", "192k"),

		LogLevel: level,
	}
	if cfg.Output != OutputStream && cfg.Output != OutputDevice {
		return Config{}, errors.New("BINAURAL_OUTPUT must be stream or device, got " + cfg.Output)
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
