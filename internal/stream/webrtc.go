package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/binaural/internal/audio"
)

// Browsers down-mix Opus to mono unless the answer asks for stereo, which
// would cancel the beat entirely.
const opusFmtp = "minptime=10;useinbandfec=1;stereo=1;sprop-stereo=1"

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus streaming.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	log         logrus.FieldLogger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC stream handler encoding Opus at bitrate
// bits per second.
func NewWebRTCHandler(b *Broadcaster, bitrate int, log logrus.FieldLogger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		log:         log.WithField("stream", "webrtc"),
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() error {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*webrtc.PeerConnection]*Listener)
	h.mu.Unlock()

	var errs []error
	for pc, l := range peers {
		h.broadcaster.Unsubscribe(l)
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}

type negotiationError struct {
	status int
	msg    string
}

func (e *negotiationError) Error() string { return e.msg }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.answer(r.Context(), offer)
	if err != nil {
		var ne *negotiationError
		if errors.As(err, &ne) {
			h.log.WithError(err).Debug("negotiation failed")
			http.Error(w, ne.msg, ne.status)
		}
		return
	}

	listener := h.broadcaster.Subscribe()
	h.mu.Lock()
	h.peers[pc] = listener
	h.mu.Unlock()
	h.log.WithField("peers", h.PeerCount()).Info("peer connected")

	go h.streamToPeer(listener, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.hangUp(pc)
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// answer builds a peer connection with one stereo Opus track and completes
// ICE gathering so the answer carries every candidate. The connection is
// closed on any failure.
func (h *WebRTCHandler) answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, &negotiationError{http.StatusInternalServerError, "create peer connection failed"}
	}
	fail := func(status int, msg string) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, &negotiationError{status, msg}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audio.SampleRate,
			Channels:    audio.Channels,
			SDPFmtpLine: opusFmtp,
		},
		"audio",
		"binaural",
	)
	if err != nil {
		return fail(http.StatusInternalServerError, "create audio track failed")
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track failed")
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description failed")
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer failed")
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "set local description failed")
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, nil, ctx.Err()
	}
	return pc, track, nil
}

func (h *WebRTCHandler) hangUp(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	listener, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcaster.Unsubscribe(listener)
	pc.Close()
	h.log.WithField("peers", h.PeerCount()).Info("peer disconnected")
}

func (h *WebRTCHandler) newEncoder() (*opus.Encoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		h.log.WithError(err).WithField("bitrate", h.bitrate).Warn("opus bitrate")
	}
	// Pure tones in the low hundreds of Hz; keep the full band anyway so
	// ambient noise beds are not dulled.
	if err := enc.SetMaxBandwidth(opus.Fullband); err != nil {
		h.log.WithError(err).Warn("opus bandwidth")
	}
	return enc, nil
}

func (h *WebRTCHandler) streamToPeer(listener *Listener, track *webrtc.TrackLocalStaticSample) {
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := h.newEncoder()
	if err != nil {
		h.log.WithError(err).Error("opus encoder")
		return
	}

	opusBuf := make([]byte, 4000)
	for {
		select {
		case <-listener.Done():
			return
		case frame := <-listener.C:
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				h.log.WithError(err).Warn("opus encode")
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}
