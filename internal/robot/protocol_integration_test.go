package robot

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/umdenes100/visionarena/internal/logging"
	"github.com/umdenes100/visionarena/internal/model"
)

// stubPoses is a minimal PoseSource double.
type stubPoses struct {
	seen  map[int]bool
	poses map[int]model.Pose
}

func (s stubPoses) Seen(id int) bool { return s.seen[id] }
func (s stubPoses) PoseOf(id int) model.Pose {
	if p, ok := s.poses[id]; ok {
		return p
	}
	return model.SentinelPose()
}

// recordingSink is a minimal EventSink double that records every call.
type recordingSink struct {
	systemLogs []string
}

func (r *recordingSink) SystemLog(format string, args ...any) {
	r.systemLogs = append(r.systemLogs, fmt.Sprintf(format, args...))
}
func (r *recordingSink) TeamLog(team, message string, developerOriginated bool) {}
func (r *recordingSink) TeamMLImage(team, dataURL string)                       {}

func dialTestProtocol(t *testing.T, proto *Protocol) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(proto)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dialing test protocol server: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

// TestBeginThenPingReceivesPong drives the robot lifecycle up through the
// first ping/pong exchange: begin registers the robot, and a ping elicits
// a pong reply carrying the same team name.
func TestBeginThenPingReceivesPong(t *testing.T) {
	registry := NewRegistry()
	poses := stubPoses{seen: map[int]bool{42: true}}
	events := &recordingSink{}
	proto := NewProtocol(registry, poses, events, nil, "", nil, logging.New(logging.Error))

	conn, cleanup := dialTestProtocol(t, proto)
	defer cleanup()

	if err := conn.WriteJSON(map[string]any{"op": "begin", "teamName": "Alpha", "teamType": "CRASH_SITE", "aruco": 42}); err != nil {
		t.Fatalf("writing begin: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"op": "ping", "teamName": "Alpha", "status": "ping"}); err != nil {
		t.Fatalf("writing ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply pingReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("reading pong reply: %v", err)
	}
	if reply.Op != "ping" || reply.Status != "pong" || reply.TeamName != "Alpha" {
		t.Fatalf("reply = %+v, want {ping Alpha pong}", reply)
	}

	if got := registry.MarkerIDOf("Alpha"); got != 42 {
		t.Fatalf("MarkerIDOf(Alpha) after begin = %d, want 42", got)
	}
}

// TestArucoReturnsSentinelWhenUnassigned covers the `aruco` op before any
// `begin` has bound a marker id.
func TestArucoReturnsSentinelWhenUnassigned(t *testing.T) {
	registry := NewRegistry()
	poses := stubPoses{}
	events := &recordingSink{}
	proto := NewProtocol(registry, poses, events, nil, "", nil, logging.New(logging.Error))

	conn, cleanup := dialTestProtocol(t, proto)
	defer cleanup()

	if err := conn.WriteJSON(map[string]any{"op": "aruco", "teamName": "Beta"}); err != nil {
		t.Fatalf("writing aruco: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply arucoReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("reading aruco reply: %v", err)
	}
	if reply.IsVisible || reply.X != model.Sentinel {
		t.Fatalf("reply = %+v, want invisible sentinel", reply)
	}
}

// TestUniquenessRejectsSecondLiveBegin registers the same team name on
// two live connections; the second must be rejected with a system-log
// line and must not rebind the registry's connection.
func TestUniquenessRejectsSecondLiveBegin(t *testing.T) {
	registry := NewRegistry()
	poses := stubPoses{seen: map[int]bool{1: true}}
	events := &recordingSink{}
	proto := NewProtocol(registry, poses, events, nil, "", nil, logging.New(logging.Error))

	srv := httptest.NewServer(proto)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	connA, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing connA: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing connB: %v", err)
	}
	defer connB.Close()

	if err := connA.WriteJSON(map[string]any{"op": "begin", "teamName": "Gamma", "teamType": "x", "aruco": 1}); err != nil {
		t.Fatalf("writing begin on connA: %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let connA's begin land first

	boundToA, _ := registry.Conn("Gamma")
	if boundToA == nil {
		t.Fatal("connA's begin did not bind a connection for Gamma")
	}

	if err := connB.WriteJSON(map[string]any{"op": "begin", "teamName": "Gamma", "teamType": "x", "aruco": 1}); err != nil {
		t.Fatalf("writing begin on connB: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if conn, _ := registry.Conn("Gamma"); conn != boundToA {
		t.Fatal("connB's duplicate begin rebound the registry's connection; the first live connection should win")
	}

	found := false
	for _, line := range events.systemLogs {
		if strings.Contains(line, "rejected") {
			found = true
		}
	}
	if !found {
		t.Fatalf("system log lines = %v, want a rejected-duplicate line", events.systemLogs)
	}
}
