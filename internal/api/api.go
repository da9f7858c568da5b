// Package api exposes the binaural engine over a small JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/engine"
	"github.com/satindergrewal/binaural/internal/graph"
	"github.com/satindergrewal/binaural/internal/noise"
)

// Engine is the engine surface the API drives.
type Engine interface {
	Start(ctx context.Context, cfg engine.BinauralConfig) error
	Stop()
	SetVolume(percent float64)
	TransitionTo(cfg engine.BinauralConfig, d time.Duration) error
	StartAmbient(id string, volume float64) error
	StopAmbient(id string)
	SetAmbientVolume(id string, volume float64)
	IsAmbientPlaying(id string) bool
	AmbientChannels() []string
	AddWhiteNoise(intensity float64) *graph.BufferSource
	StopWhiteNoise()
	WhiteNoiseLoops() int
	FrequencyData() []byte
	TimeDomainData() []byte
	IsPlaying() bool
	State() string
	Config() (engine.BinauralConfig, bool)
	CurrentTime() float64
}

// Defaults fill in fields a request leaves out.
type Defaults struct {
	Volume     float64
	Transition time.Duration
}

// Handler serves the control API.
type Handler struct {
	eng      Engine
	defaults Defaults
	log      logrus.FieldLogger
}

// New creates the API handler.
func New(eng Engine, defaults Defaults, log logrus.FieldLogger) *Handler {
	return &Handler{eng: eng, defaults: defaults, log: log.WithField("component", "api")}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.state)
	mux.HandleFunc("/api/presets", h.presets)
	mux.HandleFunc("/api/start", post(h.start))
	mux.HandleFunc("/api/stop", post(h.stop))
	mux.HandleFunc("/api/volume", post(h.volume))
	mux.HandleFunc("/api/transition", post(h.transition))
	mux.HandleFunc("/api/ambient/{id}", h.ambient)
	mux.HandleFunc("/api/white-noise", h.whiteNoise)
	mux.HandleFunc("/api/visualizer/frequency", h.visualizer(h.eng.FrequencyData))
	mux.HandleFunc("/api/visualizer/time", h.visualizer(h.eng.TimeDomainData))
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	State       string                 `json:"state"`
	Playing     bool                   `json:"playing"`
	Config      *engine.BinauralConfig `json:"config"`
	Ambient     []string               `json:"ambient"`
	CurrentTime float64                `json:"current_time"`
}

func (h *Handler) snapshot() StateResponse {
	resp := StateResponse{
		State:       h.eng.State(),
		Playing:     h.eng.IsPlaying(),
		Ambient:     h.eng.AmbientChannels(),
		CurrentTime: h.eng.CurrentTime(),
	}
	if cfg, ok := h.eng.Config(); ok {
		resp.Config = &cfg
	}
	return resp
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, engine.Presets())
}

// SessionRequest selects a configuration by preset name or explicit
// frequencies. Volume is optional.
type SessionRequest struct {
	Preset        string   `json:"preset"`
	BaseFrequency float64  `json:"base_frequency"`
	BeatFrequency float64  `json:"beat_frequency"`
	Volume        *float64 `json:"volume"`
	Duration      float64  `json:"duration"` // seconds, transitions only
}

var errUnknownPreset = errors.New("unknown preset")

func (h *Handler) sessionConfig(req SessionRequest) (engine.BinauralConfig, error) {
	volume := h.defaults.Volume
	if req.Volume != nil {
		volume = *req.Volume
	}
	if req.Preset != "" {
		p, ok := engine.LookupPreset(req.Preset)
		if !ok {
			return engine.BinauralConfig{}, errUnknownPreset
		}
		return p.Config(volume), nil
	}
	return engine.BinauralConfig{
		BaseFrequency: req.BaseFrequency,
		BeatFrequency: req.BeatFrequency,
		Volume:        volume,
	}, nil
}

func decodeSession(r *http.Request) (SessionRequest, error) {
	var req SessionRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSession(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	cfg, err := h.sessionConfig(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.eng.Start(r.Context(), cfg); err != nil {
		h.fail(w, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	h.eng.Stop()
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) volume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		http.Error(w, "volume required", http.StatusBadRequest)
		return
	}
	h.eng.SetVolume(*req.Volume)
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSession(r)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Volume == nil {
		if cur, ok := h.eng.Config(); ok {
			req.Volume = &cur.Volume
		}
	}
	cfg, err := h.sessionConfig(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d := h.defaults.Transition
	if req.Duration > 0 {
		d = time.Duration(req.Duration * float64(time.Second))
	}
	if err := h.eng.TransitionTo(cfg, d); err != nil {
		h.fail(w, "transition", err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// ambient mirrors the mixer slider: a positive volume starts the channel or
// re-levels it, zero stops it. DELETE also stops.
func (h *Handler) ambient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := noise.ProfileFor(id); !ok {
		http.Error(w, "unknown ambient channel", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		h.eng.StopAmbient(id)
	case http.MethodPost:
		var req struct {
			Volume *float64 `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
			http.Error(w, "volume required", http.StatusBadRequest)
			return
		}
		switch {
		case *req.Volume <= 0:
			h.eng.StopAmbient(id)
		case h.eng.IsAmbientPlaying(id):
			h.eng.SetAmbientVolume(id, *req.Volume)
		default:
			if err := h.eng.StartAmbient(id, *req.Volume); err != nil {
				h.fail(w, "ambient", err)
				return
			}
		}
	default:
		http.Error(w, "POST or DELETE required", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"playing": h.eng.IsAmbientPlaying(id),
		"ambient": h.eng.AmbientChannels(),
	})
}

// whiteNoise keeps a single legacy white-noise layer: POST replaces it at the
// requested intensity, DELETE silences it.
func (h *Handler) whiteNoise(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		h.eng.StopWhiteNoise()
	case http.MethodPost:
		req := struct {
			Intensity float64 `json:"intensity"`
		}{Intensity: engine.DefaultWhiteNoise}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
		}
		h.eng.StopWhiteNoise()
		if h.eng.AddWhiteNoise(req.Intensity) == nil {
			http.Error(w, "audio output unavailable", http.StatusServiceUnavailable)
			return
		}
	default:
		http.Error(w, "POST or DELETE required", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playing": h.eng.WhiteNoiseLoops() > 0})
}

func (h *Handler) visualizer(snapshot func() []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(snapshot())
	}
}

// fail maps engine errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrInvalidConfig), errors.Is(err, engine.ErrUnknownAmbient):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrAudioUnavailable):
		status = http.StatusServiceUnavailable
		msg = "audio output unavailable: check audio output permissions and retry"
	case errors.Is(err, engine.ErrDisposed):
		status = http.StatusGone
	case errors.Is(err, context.Canceled):
		return
	}
	h.log.WithError(err).WithField("op", op).Warn("request failed")
	http.Error(w, msg, status)
}
