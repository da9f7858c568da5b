package stream

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestFFmpegArgs(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(quietLog()), "256k", quietLog())
	args := h.ffmpegArgs()

	i := slices.Index(args, "-b:a")
	if i < 0 || args[i+1] != "256k" {
		t.Errorf("bitrate not passed to ffmpeg: %v", args)
	}
	i = slices.Index(args, "-ar")
	if i < 0 || args[i+1] != "48000" {
		t.Errorf("sample rate = %v, want 48000", args)
	}
	i = slices.Index(args, "-joint_stereo")
	if i < 0 || args[i+1] != "0" {
		t.Errorf("joint stereo must be disabled: %v", args)
	}
}

func TestWAVHeader(t *testing.T) {
	h := wavHeader()
	if len(h) != 44 || string(h[0:4]) != "RIFF" || string(h[8:16]) != "WAVEfmt " || string(h[36:40]) != "data" {
		t.Fatalf("header = %q", h)
	}
	if ch := binary.LittleEndian.Uint16(h[22:]); ch != 2 {
		t.Errorf("channels = %d, want 2", ch)
	}
	if sr := binary.LittleEndian.Uint32(h[24:]); sr != 48000 {
		t.Errorf("sample rate = %d, want 48000", sr)
	}
	if rate := binary.LittleEndian.Uint32(h[28:]); rate != 48000*4 {
		t.Errorf("byte rate = %d, want %d", rate, 48000*4)
	}
}

func TestWAVStream(t *testing.T) {
	b := NewBroadcaster(quietLog())
	source := make(chan []int16, 1)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go b.Run(ctx, source)

	srv := httptest.NewServer(NewHTTPHandler(b, "192k", quietLog()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream?format=wav")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(time.Second)
	for b.ListenerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	source <- []int16{1000, -1000}

	buf := make([]byte, 44+4)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatal(err)
	}
	l := int16(binary.LittleEndian.Uint16(buf[44:]))
	r := int16(binary.LittleEndian.Uint16(buf[46:]))
	if l != 1000 || r != -1000 {
		t.Errorf("frame = %d,%d, want 1000,-1000", l, r)
	}
}

func TestStreamRejectsUnknownFormat(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(quietLog()), "192k", quietLog())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?format=flac", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebRTCMethodChecks(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(quietLog()), 128000, quietLog())

	tests := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodOptions, "", http.StatusOK},
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.method, rec.Code, tt.want)
		}
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", h.PeerCount())
	}
}
