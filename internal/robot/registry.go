// Package robot holds the per-robot registry and the JSON-over-websocket
// protocol embedded clients speak: registration, prints, liveness pings,
// pose queries against a short rolling history, and inference forwarding.
package robot

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/umdenes100/visionarena/internal/model"
)

// State is one robot's registry record. Name is immutable once created;
// everything else is guarded by mu.
type State struct {
	Name string

	mu                sync.Mutex
	teamType          string
	markerID          int
	conn              *websocket.Conn
	writeMu           *sync.Mutex // serialises writes on conn, shared with the owning connection goroutine
	connected         bool
	missedPings       int
	lastSeenMonotonic time.Time
	poseHistory       model.PoseHistory
}

// RosterEntry is one line of the roster snapshot pushed to browsers.
type RosterEntry struct {
	Name      string  `json:"name"`
	Connected bool    `json:"connected"`
	TeamType  string  `json:"teamType"`
	Aruco     int     `json:"aruco"`
	Visible   bool    `json:"visible"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Theta     float64 `json:"theta"`
}

// Registry is the in-memory, concurrency-guarded name -> State map.
type Registry struct {
	mu     sync.RWMutex
	robots map[string]*State
	// lastKnownNameByRemote supplements the registration system-log line
	// with "reconnected" vs "connected". It does not affect uniqueness or
	// registration semantics.
	lastKnownNameByRemote map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		robots:                make(map[string]*State),
		lastKnownNameByRemote: make(map[string]string),
	}
}

// Upsert returns the existing State for name, creating one if absent.
func (r *Registry) Upsert(name string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.robots[name]; ok {
		return s
	}
	s := &State{Name: name, markerID: -1, writeMu: &sync.Mutex{}}
	r.robots[name] = s
	return s
}

// Get returns the State for name if it has ever been seen.
func (r *Registry) Get(name string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.robots[name]
	return s, ok
}

// IsLiveUnderDifferentConnection reports whether name is currently
// connected under a conn other than exclude, for the uniqueness check in
// the `begin` handler.
func (r *Registry) IsLiveUnderDifferentConnection(name string, exclude *websocket.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.robots[name]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.conn != exclude
}

// AssignConnection binds conn to name, marks it connected, and resets the
// missed-ping counter.
func (r *Registry) AssignConnection(name string, conn *websocket.Conn, writeMu *sync.Mutex) {
	s := r.Upsert(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.writeMu = writeMu
	s.connected = true
	s.missedPings = 0
	s.lastSeenMonotonic = time.Now()
}

// Disconnect marks name disconnected and closes its connection, but
// retains the record. Idempotent.
func (r *Registry) Disconnect(name string) {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	conn := s.conn
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if wasConnected && conn != nil {
		conn.Close()
	}
}

// Snapshot returns the roster ordered case-insensitively by name.
func (r *Registry) Snapshot() []RosterEntry {
	r.mu.RLock()
	entries := make([]RosterEntry, 0, len(r.robots))
	for _, s := range r.robots {
		s.mu.Lock()
		pose := s.poseHistory.NewestValid()
		entries = append(entries, RosterEntry{
			Name: s.Name, Connected: s.connected, TeamType: s.teamType, Aruco: s.markerID,
			Visible: pose.Visible, X: pose.X, Y: pose.Y, Theta: pose.Theta,
		})
		s.mu.Unlock()
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries
}

// noteRemote records the team name last seen from a remote address, and
// returns the previous value (empty if none).
func (r *Registry) noteRemote(remote, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.lastKnownNameByRemote[remote]
	r.lastKnownNameByRemote[remote] = name
	return prev
}

// PushPose pushes a new sample onto name's rolling pose history.
func (r *Registry) PushPose(name string, pose model.Pose) {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.poseHistory.Push(pose)
	s.mu.Unlock()
}

// ConnectedNames returns the names of all currently connected robots, for
// the pose-refresh ticker.
func (r *Registry) ConnectedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.robots))
	for name, s := range r.robots {
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()
		if connected {
			out = append(out, name)
		}
	}
	return out
}

// MarkerIDOf returns the assigned marker id for name, or -1 if unknown.
func (r *Registry) MarkerIDOf(name string) int {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markerID
}

// SetBegin records teamType and markerID for name and resets missedPings,
// the effect of a `begin` op (including idempotent re-`begin`s).
func (r *Registry) SetBegin(name, teamType string, markerID int) {
	s := r.Upsert(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamType = teamType
	s.markerID = markerID
	s.missedPings = 0
	s.lastSeenMonotonic = time.Now()
}

// ResetMissedPings zeroes name's missed-ping counter, the effect of any
// inbound ping or pong.
func (r *Registry) ResetMissedPings(name string) {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.missedPings = 0
	s.lastSeenMonotonic = time.Now()
	s.mu.Unlock()
}

// IncrementMissedPingsAndCheck increments name's missed-ping counter and
// reports whether it has now reached the disconnect threshold.
func (r *Registry) IncrementMissedPingsAndCheck(name string) bool {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	s.missedPings++
	exceeded := s.missedPings >= model.PingMissThreshold
	s.mu.Unlock()
	return exceeded
}

// Conn returns the currently bound connection and its write mutex for name.
func (r *Registry) Conn(name string) (*websocket.Conn, *sync.Mutex) {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.writeMu
}

// PoseHistoryOf returns the newest valid sample from name's pose history.
func (r *Registry) PoseHistoryOf(name string) model.Pose {
	r.mu.RLock()
	s, ok := r.robots[name]
	r.mu.RUnlock()
	if !ok {
		return model.SentinelPose()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poseHistory.NewestValid()
}
