package robot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/umdenes100/visionarena/internal/logging"
	"github.com/umdenes100/visionarena/internal/mission"
	"github.com/umdenes100/visionarena/internal/ml"
	"github.com/umdenes100/visionarena/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PoseSource is the narrow read-only view of the arena mapper the
// protocol needs; holding an interface here rather than the mapper itself
// keeps the registry/mapper/broadcaster coupling acyclic.
type PoseSource interface {
	Seen(id int) bool
	PoseOf(id int) model.Pose
}

// EventSink is the narrow view of the UI broadcaster the protocol writes
// user-visible events through, for the same reason.
type EventSink interface {
	SystemLog(format string, args ...any)
	TeamLog(team, message string, developerOriginated bool)
	TeamMLImage(team string, dataURL string)
}

// inboundMsg is the tagged-union wire format keyed on op. Every inbound
// frame is expected to parse into this shape; unrecognised op values fall
// through to the dispatch switch's default and are ignored.
type inboundMsg struct {
	Op          string `json:"op"`
	TeamName    string `json:"teamName"`
	TeamType    string `json:"teamType"`
	Aruco       int    `json:"aruco"`
	Hardware    string `json:"hardware,omitempty"`
	Message     string `json:"message,omitempty"`
	Status      string `json:"status,omitempty"`
	Index       int    `json:"index,omitempty"`
	Frame       string `json:"frame,omitempty"`
	MissionType string `json:"missionType,omitempty"`
	Value       int    `json:"value,omitempty"`
}

type pingReply struct {
	Op       string `json:"op"`
	TeamName string `json:"teamName"`
	Status   string `json:"status"`
}

type arucoReply struct {
	Op        string  `json:"op"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Theta     float64 `json:"theta"`
	IsVisible bool    `json:"is_visible"`
}

type predictionReply struct {
	Op         string `json:"op"`
	Prediction int    `json:"prediction"`
}

// Protocol serves the robot channel's websocket endpoint and dispatches
// the begin/print/mission/ping/aruco/prediction_request ops.
type Protocol struct {
	registry  *Registry
	poses     PoseSource
	events    EventSink
	mlClient  *ml.Client
	mlDir     string
	formatter mission.Formatter
	log       *logging.Logger
}

func NewProtocol(registry *Registry, poses PoseSource, events EventSink, mlClient *ml.Client, mlModelsDir string, formatter mission.Formatter, log *logging.Logger) *Protocol {
	if formatter == nil {
		formatter = mission.Passthrough{}
	}
	return &Protocol{registry: registry, poses: poses, events: events, mlClient: mlClient, mlDir: mlModelsDir, formatter: formatter, log: log}
}

// ServeHTTP upgrades the connection and starts its read pump. Each
// connection gets its own write mutex so outbound sends from the read
// pump, the ping ticker, and ML response delivery never interleave bytes
// on the same socket.
func (p *Protocol) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Debugf("robot channel upgrade error: %v", err)
		return
	}
	connID := uuid.New().String()
	writeMu := &sync.Mutex{}
	go p.readPump(conn, writeMu, connID)
}

// adoptedName is the team name the first frame on a connection binds for
// cleanup purposes, shared between the read pump and the ping loop.
type adoptedName struct {
	mu   sync.Mutex
	name string
}

func (a *adoptedName) get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

func (a *adoptedName) adopt(name string) {
	a.mu.Lock()
	if a.name == "" {
		a.name = name
	}
	a.mu.Unlock()
}

// readPump owns one connection for its lifetime: New -> Registered ->
// Disconnected.
func (p *Protocol) readPump(conn *websocket.Conn, writeMu *sync.Mutex, connID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.log.Debugf("robot channel: connection %s open from %s", connID, connAddr(conn))

	adopted := &adoptedName{}
	defer func() {
		if name := adopted.get(); name != "" {
			p.registry.Disconnect(name)
		}
		conn.Close()
		p.log.Debugf("robot channel: connection %s closed", connID)
	}()

	go p.pingLoop(ctx, conn, writeMu, adopted)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			p.log.Debugf("robot channel: invalid JSON frame: %v", err)
			continue
		}
		if msg.TeamName == "" {
			continue
		}
		adopted.adopt(msg.TeamName)

		switch msg.Op {
		case "begin":
			if p.registry.IsLiveUnderDifferentConnection(msg.TeamName, conn) {
				p.events.SystemLog("rejected duplicate registration for team %q", msg.TeamName)
				continue
			}
			prev := p.registry.noteRemote(connAddr(conn), msg.TeamName)
			p.registry.AssignConnection(msg.TeamName, conn, writeMu)
			p.registry.SetBegin(msg.TeamName, msg.TeamType, msg.Aruco)
			if !p.poses.Seen(msg.Aruco) {
				p.events.SystemLog("team %q registered aruco id %d, which is not currently visible", msg.TeamName, msg.Aruco)
			}
			if prev != "" && prev != msg.TeamName {
				p.events.SystemLog("team %q reconnected (previously %q on this address)", msg.TeamName, prev)
			} else {
				p.events.SystemLog("team %q connected", msg.TeamName)
			}

		case "print":
			p.events.TeamLog(msg.TeamName, msg.Message, false)

		case "mission":
			formatted := p.formatter.Format(msg.TeamType, msg.MissionType, msg.Value)
			p.events.TeamLog(msg.TeamName, formatted, true)

		case "ping":
			p.registry.ResetMissedPings(msg.TeamName)
			if msg.Status == "ping" {
				if !p.send(conn, writeMu, pingReply{Op: "ping", TeamName: msg.TeamName, Status: "pong"}) {
					return
				}
			}

		case "aruco":
			markerID := p.registry.MarkerIDOf(msg.TeamName)
			pose := model.SentinelPose()
			if markerID >= 0 {
				pose = p.registry.PoseHistoryOf(msg.TeamName)
			}
			reply := arucoReply{Op: "aruco", X: pose.X, Y: pose.Y, Theta: pose.Theta, IsVisible: pose.Visible}
			if !p.send(conn, writeMu, reply) {
				return
			}

		case "prediction_request":
			frame, decodeErr := base64.StdEncoding.DecodeString(msg.Frame)
			if decodeErr != nil {
				p.log.Debugf("robot channel: bad base64 frame from %q: %v", msg.TeamName, decodeErr)
				continue
			}
			p.events.TeamMLImage(msg.TeamName, "data:image/jpeg;base64,"+msg.Frame)
			go p.forwardPrediction(conn, writeMu, msg.TeamName, msg.Index, frame)

		default:
			// Unknown ops are ignored.
		}
	}
}

func (p *Protocol) forwardPrediction(conn *websocket.Conn, writeMu *sync.Mutex, team string, index int, frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := p.mlClient.Predict(ctx, ml.Request{TeamName: team, ModelIndex: index, ModelsDir: p.mlDir, Frame: frame})
	if err != nil {
		p.log.Debugf("ml worker enqueue failed for team %q: %v", team, err)
		return
	}
	p.send(conn, writeMu, predictionReply{Op: "prediction", Prediction: resp.Prediction})
}

// pingLoop is the server-initiated ping ticker: every 5 seconds it sends a
// ping and increments the missed-ping counter; on the 5th consecutive
// miss it disconnects.
func (p *Protocol) pingLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, adopted *adoptedName) {
	ticker := time.NewTicker(model.PingIntervalSeconds * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			name := adopted.get()
			if name == "" {
				continue
			}
			if !p.send(conn, writeMu, pingReply{Op: "ping", TeamName: name, Status: "ping"}) {
				return
			}
			if p.registry.IncrementMissedPingsAndCheck(name) {
				p.events.SystemLog("team %q missed %d consecutive pings, disconnecting", name, model.PingMissThreshold)
				p.registry.Disconnect(name)
				return
			}
		}
	}
}

// send marshals and writes v on conn under writeMu. A write failure
// closes conn, which ends the read pump and disconnects the robot.
func (p *Protocol) send(conn *websocket.Conn, writeMu *sync.Mutex, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Debugf("robot channel: marshal failed: %v", err)
		return false
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return false
	}
	return true
}

// RefreshPoses runs on a ~5 Hz ticker in the supervisor, pushing each
// connected robot's current pose onto its rolling history.
func (p *Protocol) RefreshPoses() {
	for _, name := range p.registry.ConnectedNames() {
		markerID := p.registry.MarkerIDOf(name)
		pose := model.SentinelPose()
		if markerID >= 0 {
			pose = p.poses.PoseOf(markerID)
		}
		p.registry.PushPose(name, pose)
	}
}

func connAddr(conn *websocket.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
