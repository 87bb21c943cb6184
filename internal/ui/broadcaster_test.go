package ui

import (
	"strings"
	"testing"

	"github.com/umdenes100/visionarena/internal/logging"
	"github.com/umdenes100/visionarena/internal/robot"
)

type stubRoster struct{ entries []robot.RosterEntry }

func (s stubRoster) Snapshot() []robot.RosterEntry { return s.entries }

func TestClientPushPopFIFO(t *testing.T) {
	c := &client{wake: make(chan struct{}, 1)}
	c.push(event{Type: "a"})
	c.push(event{Type: "b"})

	first, ok := c.pop()
	if !ok || first.Type != "a" {
		t.Fatalf("first pop = (%+v, %v), want (a, true)", first, ok)
	}
	second, ok := c.pop()
	if !ok || second.Type != "b" {
		t.Fatalf("second pop = (%+v, %v), want (b, true)", second, ok)
	}
	if _, ok := c.pop(); ok {
		t.Fatal("pop() on an empty queue returned ok=true")
	}
}

func TestClientPushDropsOldestAtCapacity(t *testing.T) {
	c := &client{wake: make(chan struct{}, 1)}
	for i := 0; i < clientQueueCapacity+10; i++ {
		c.push(event{Type: "system_log", Message: string(rune('a' + i%26))})
	}
	if len(c.queue) != clientQueueCapacity {
		t.Fatalf("queue length = %d, want %d", len(c.queue), clientQueueCapacity)
	}
	// The first 10 pushes were dropped, so the head is the 11th event ('k').
	if got, want := c.queue[0].Message, string(rune('a'+10)); got != want {
		t.Fatalf("queue head = %q, want %q (oldest events dropped)", got, want)
	}
}

func TestSystemLogBroadcastsExactlyOnceViaLogSink(t *testing.T) {
	log := logging.New(logging.Debug)
	b := NewBroadcaster(stubRoster{}, log)
	log.AddSink(b.LogSink())

	c := &client{wake: make(chan struct{}, 1)}
	b.mu.Lock()
	b.clients = map[*client]bool{c: true}
	b.mu.Unlock()

	b.SystemLog("hello %s", "world")

	e, ok := c.pop()
	if !ok {
		t.Fatal("expected an event to have been queued for the client")
	}
	if e.Type != "system_log" || !strings.Contains(e.Message, "hello world") {
		t.Fatalf("event = %+v, want system_log containing 'hello world'", e)
	}

	if _, ok := c.pop(); ok {
		t.Fatal("SystemLog produced a second queued event; it must broadcast exactly once via the log sink")
	}
}

func TestTeamLogDistinguishesRawVsDeveloperOriginated(t *testing.T) {
	b := NewBroadcaster(stubRoster{}, logging.New(logging.Debug))
	c := &client{wake: make(chan struct{}, 1)}
	b.mu.Lock()
	b.clients = map[*client]bool{c: true}
	b.mu.Unlock()

	b.TeamLog("alpha", "raw print", false)
	e, _ := c.pop()
	if !e.Raw {
		t.Error("print-originated TeamLog should set Raw=true")
	}

	b.TeamLog("alpha", "mission formatted text", true)
	e2, _ := c.pop()
	if e2.Raw {
		t.Error("developer-originated TeamLog should set Raw=false")
	}
}
