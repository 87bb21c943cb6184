// Package mjpeg serves multipart/x-mixed-replace streams to browsers,
// pulling the newest JPEG from a frame-bus slot on a fixed cadence. A
// client close or broken pipe ends the loop cleanly.
package mjpeg

import (
	"fmt"
	"net/http"
	"time"

	"github.com/umdenes100/visionarena/internal/framebus"
)

const publishInterval = 50 * time.Millisecond // ~20 Hz

// Endpoint serves one FrameBus slot as an MJPEG stream.
type Endpoint struct {
	bus  *framebus.Bus
	slot string
}

func New(bus *framebus.Bus, slot string) *Endpoint {
	return &Endpoint{bus: bus, slot: slot}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := e.bus.Read(e.slot)
			if frame == nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
