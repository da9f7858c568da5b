package stream

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/audio"
)

// HTTPHandler serves the rendered session to plain HTTP clients. The default
// format is MP3, encoded per connection by an FFmpeg child process;
// ?format=wav serves the raw PCM behind an open-ended WAV header instead.
type HTTPHandler struct {
	broadcaster *Broadcaster
	bitrate     string
	log         logrus.FieldLogger
}

// NewHTTPHandler creates an HTTP stream handler encoding MP3 at bitrate
// (e.g. "192k").
func NewHTTPHandler(b *Broadcaster, bitrate string, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, bitrate: bitrate, log: log.WithField("stream", "http")}
}

// ffmpegArgs converts raw s16le PCM on stdin to MP3 on stdout. Joint stereo
// is off: mid/side coding blurs the interaural difference the beat lives in.
func (h *HTTPHandler) ffmpegArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", h.bitrate,
		"-joint_stereo", "0",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

// wavHeader is a 44-byte PCM header with the size fields saturated, which
// players treat as a stream of unknown length.
func wavHeader() []byte {
	const unknown = 0xFFFFFFFF
	blockAlign := audio.Channels * audio.BitDepth / 8

	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], unknown)
	copy(h[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], audio.Channels)
	binary.LittleEndian.PutUint32(h[24:], audio.SampleRate)
	binary.LittleEndian.PutUint32(h[28:], uint32(audio.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:], audio.BitDepth)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], unknown)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "mp3":
		format = "mp3"
	case "wav":
	default:
		http.Error(w, "format must be mp3 or wav", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "binaural")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log := h.log.WithField("format", format)
	log.WithField("listeners", h.broadcaster.ListenerCount()).Info("listener connected")
	defer log.Info("listener disconnected")

	if format == "wav" {
		w.Header().Set("Content-Type", "audio/wav")
		h.serveWAV(ctx, w, flusher, listener)
		return
	}
	h.serveMP3(ctx, w, flusher, listener, log)
}

func (h *HTTPHandler) serveWAV(ctx context.Context, w io.Writer, flusher http.Flusher, listener *Listener) {
	if _, err := w.Write(wavHeader()); err != nil {
		return
	}
	flusher.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Done():
			return
		case frame := <-listener.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *HTTPHandler) serveMP3(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, listener *Listener, log logrus.FieldLogger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", h.ffmpegArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.WithError(err).Error("stdin pipe")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.WithError(err).Error("stdout pipe")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.WithError(err).Error("ffmpeg start")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	defer func() {
		cancel()
		_ = cmd.Wait()
	}()

	w.Header().Set("Content-Type", "audio/mpeg")

	// PCM frames into the encoder
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.WithError(err).Warn("ffmpeg read")
			}
			return
		}
	}
}
