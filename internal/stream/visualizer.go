package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message type prefixes of the visualizer feed.
const (
	FrameFrequency byte = 'F'
	FrameTimeDomain byte = 'T'
)

const writeWait = time.Second

// Feed is the analyser snapshot source polled by the visualizer.
type Feed interface {
	FrequencyData() []byte
	TimeDomainData() []byte
}

// VisualizerHandler pushes analyser snapshots to WebSocket clients at a fixed
// rate. Each tick sends two binary messages: 'F' followed by the frequency
// bins, then 'T' followed by the waveform. Nothing is sent while the feed is
// empty.
type VisualizerHandler struct {
	feed     Feed
	interval time.Duration
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewVisualizerHandler polls feed fps times per second for each client.
func NewVisualizerHandler(feed Feed, fps int, log logrus.FieldLogger) *VisualizerHandler {
	if fps <= 0 {
		fps = 30
	}
	return &VisualizerHandler{
		feed:     feed,
		interval: time.Second / time.Duration(fps),
		log:      log.WithField("stream", "visualizer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *VisualizerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("upgrade")
		return
	}
	defer conn.Close()
	h.log.Info("visualizer connected")
	defer h.log.Info("visualizer disconnected")

	// Clients only listen; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
		if err := h.send(conn, FrameFrequency, h.feed.FrequencyData()); err != nil {
			return
		}
		if err := h.send(conn, FrameTimeDomain, h.feed.TimeDomainData()); err != nil {
			return
		}
	}
}

func (h *VisualizerHandler) send(conn *websocket.Conn, kind byte, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	msg := make([]byte, 0, len(data)+1)
	msg = append(msg, kind)
	msg = append(msg, data...)
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, msg)
}
