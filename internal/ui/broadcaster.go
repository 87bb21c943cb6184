// Package ui serves the single browser websocket endpoint, pushing roster
// snapshots, system-log lines, per-team log lines, and per-team ML-request
// images to every connected browser. Delivery is best-effort: each client
// gets a bounded drop-oldest queue, and a dead socket is removed and closed
// on its next failed send.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/umdenes100/visionarena/internal/logging"
	"github.com/umdenes100/visionarena/internal/robot"
)

// LogSink returns a logging.Sink that mirrors every log line at or above
// the logger's configured level to connected browsers. Register it once
// at startup with (*logging.Logger).AddSink.
func (b *Broadcaster) LogSink() logging.Sink {
	return func(level logging.Level, line string) {
		b.broadcast(event{Type: "system_log", Level: level.String(), Message: line})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const clientQueueCapacity = 1000

// event is the envelope written to every browser.
type event struct {
	Type    string              `json:"type"`
	Roster  []robot.RosterEntry `json:"roster,omitempty"`
	Level   string              `json:"level,omitempty"`
	Message string              `json:"message,omitempty"`
	Team    string              `json:"team,omitempty"`
	Raw     bool                `json:"raw,omitempty"`
	Image   string              `json:"image,omitempty"`
}

// RosterSource is the read-only query interface the broadcaster holds
// onto the robot registry.
type RosterSource interface {
	Snapshot() []robot.RosterEntry
}

type client struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	queue []event
	wake  chan struct{}
}

func (c *client) push(e event) {
	c.mu.Lock()
	if len(c.queue) >= clientQueueCapacity {
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, e)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) pop() (event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return event{}, false
	}
	e := c.queue[0]
	c.queue = c.queue[1:]
	return e, true
}

// Broadcaster serves the `/ws` browser endpoint and fans out events.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	roster  RosterSource
	log     *logging.Logger
}

func NewBroadcaster(roster RosterSource, log *logging.Logger) *Broadcaster {
	return &Broadcaster{clients: make(map[*client]bool), roster: roster, log: log}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debugf("ui channel upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, wake: make(chan struct{}, 1)}

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go b.writer(ctx, c)
	go b.reader(conn, c, cancel)
}

// reader exists purely to detect client disconnection; browsers never
// send anything meaningful on this socket.
func (b *Broadcaster) reader(conn *websocket.Conn, c *client, cancel context.CancelFunc) {
	defer func() {
		cancel()
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
		conn.Close()
	}()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writer(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			for {
				e, ok := c.pop()
				if !ok {
					break
				}
				data, err := json.Marshal(e)
				if err != nil {
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					b.mu.Lock()
					delete(b.clients, c)
					b.mu.Unlock()
					c.conn.Close()
					return
				}
			}
		}
	}
}

func (b *Broadcaster) broadcast(e event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		c.push(e)
	}
}

// RunRosterTicker pushes a roster snapshot to every connected browser at
// ~5 Hz until ctx is cancelled.
func (b *Broadcaster) RunRosterTicker(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcast(event{Type: "roster", Roster: b.roster.Snapshot()})
		}
	}
}

// SystemLog implements robot.EventSink: a developer-originated system
// message (registration, duplicate-rejection, ping-timeout, ...). It only
// logs through b.log; the single broadcast to browsers happens via the
// sink registered with (*logging.Logger).AddSink(b.LogSink()), so a line
// raised here is never broadcast twice.
func (b *Broadcaster) SystemLog(format string, args ...any) {
	b.log.Infof("%s", sprintf(format, args...))
}

// TeamLog implements robot.EventSink. developerOriginated distinguishes a
// level-prefixed developer message from a robot's raw verbatim print.
func (b *Broadcaster) TeamLog(team, message string, developerOriginated bool) {
	b.broadcast(event{Type: "team_log", Team: team, Message: message, Raw: !developerOriginated})
}

// TeamMLImage implements robot.EventSink.
func (b *Broadcaster) TeamMLImage(team, dataURL string) {
	b.broadcast(event{Type: "team_ml_image", Team: team, Image: dataURL})
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
