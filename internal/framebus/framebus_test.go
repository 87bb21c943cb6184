package framebus

import (
	"bytes"
	"testing"
)

func TestReadReturnsPlaceholderUntilPublished(t *testing.T) {
	placeholder := []byte("placeholder")
	b := New(placeholder)

	for _, slot := range []string{Raw, Overlay, Crop} {
		if got := b.Read(slot); !bytes.Equal(got, placeholder) {
			t.Errorf("Read(%q) before publish = %v, want placeholder", slot, got)
		}
	}
}

func TestPublishThenRead(t *testing.T) {
	b := New([]byte("placeholder"))
	frame := []byte("a jpeg")
	b.Publish(Overlay, frame)

	if got := b.Read(Overlay); !bytes.Equal(got, frame) {
		t.Errorf("Read(Overlay) = %v, want %v", got, frame)
	}
	if got := b.Read(Raw); !bytes.Equal(got, []byte("placeholder")) {
		t.Errorf("Read(Raw) = %v, want placeholder (unaffected by Overlay publish)", got)
	}
}

func TestReadUnknownSlotReturnsPlaceholder(t *testing.T) {
	b := New([]byte("placeholder"))
	if got := b.Read("nonsense"); !bytes.Equal(got, []byte("placeholder")) {
		t.Errorf("Read(unknown) = %v, want placeholder", got)
	}
}

func TestPublishIsLatestWins(t *testing.T) {
	b := New(nil)
	b.Publish(Raw, []byte("first"))
	b.Publish(Raw, []byte("second"))
	if got := b.Read(Raw); !bytes.Equal(got, []byte("second")) {
		t.Errorf("Read(Raw) = %v, want the most recently published frame", got)
	}
}
