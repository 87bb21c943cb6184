// Package framebus holds the three most recent JPEGs (raw, overlay, crop)
// behind atomic pointer swaps, so MJPEG readers always observe a
// self-contained JPEG and never a splice of two frames.
package framebus

import "sync/atomic"

// Slot names.
const (
	Raw     = "raw"
	Overlay = "overlay"
	Crop    = "crop"
)

type slot struct {
	v atomic.Value // []byte
}

func (s *slot) store(b []byte) { s.v.Store(b) }
func (s *slot) load() []byte {
	v := s.v.Load()
	if v == nil {
		return nil
	}
	return v.([]byte)
}

// Bus holds the raw/overlay/crop slots plus one placeholder, shared by all
// slots, returned for any slot that has never been written.
type Bus struct {
	raw, overlay, crop slot
	placeholder        []byte
}

func New(placeholder []byte) *Bus {
	return &Bus{placeholder: placeholder}
}

func (b *Bus) slotFor(name string) *slot {
	switch name {
	case Raw:
		return &b.raw
	case Overlay:
		return &b.overlay
	case Crop:
		return &b.crop
	default:
		return nil
	}
}

// Publish atomically replaces the named slot's frame.
func (b *Bus) Publish(name string, frame []byte) {
	if s := b.slotFor(name); s != nil {
		s.store(frame)
	}
}

// Read returns the named slot's most recent JPEG, or the placeholder if
// the slot has never been published to.
func (b *Bus) Read(name string) []byte {
	s := b.slotFor(name)
	if s == nil {
		return b.placeholder
	}
	if frame := s.load(); frame != nil {
		return frame
	}
	return b.placeholder
}
