package robot

import (
	"sync"
	"testing"

	"github.com/umdenes100/visionarena/internal/model"
)

func TestUpsertIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.Upsert("alpha")
	b := r.Upsert("alpha")
	if a != b {
		t.Fatal("Upsert() returned distinct States for the same name")
	}
}

func TestSetBeginAndMarkerIDOf(t *testing.T) {
	r := NewRegistry()
	r.SetBegin("alpha", "autonomous", 7)
	if got := r.MarkerIDOf("alpha"); got != 7 {
		t.Errorf("MarkerIDOf() = %d, want 7", got)
	}
	if got := r.MarkerIDOf("never-seen"); got != -1 {
		t.Errorf("MarkerIDOf(unknown) = %d, want -1", got)
	}
}

func TestAssignConnectionThenDisconnectIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.SetBegin("alpha", "autonomous", 1)
	r.AssignConnection("alpha", nil, &sync.Mutex{})

	names := r.ConnectedNames()
	if len(names) != 1 || names[0] != "alpha" {
		t.Fatalf("ConnectedNames() = %v, want [alpha]", names)
	}

	r.Disconnect("alpha")
	r.Disconnect("alpha") // idempotent: must not panic or error
	if names := r.ConnectedNames(); len(names) != 0 {
		t.Fatalf("ConnectedNames() after disconnect = %v, want empty", names)
	}
}

func TestIncrementMissedPingsReachesThreshold(t *testing.T) {
	r := NewRegistry()
	r.SetBegin("alpha", "autonomous", 1)

	for i := 0; i < model.PingMissThreshold-1; i++ {
		if r.IncrementMissedPingsAndCheck("alpha") {
			t.Fatalf("threshold reached early at miss %d", i+1)
		}
	}
	if !r.IncrementMissedPingsAndCheck("alpha") {
		t.Fatal("threshold not reached at the configured miss count")
	}
}

func TestResetMissedPingsClearsCounter(t *testing.T) {
	r := NewRegistry()
	r.SetBegin("alpha", "autonomous", 1)
	r.IncrementMissedPingsAndCheck("alpha")
	r.ResetMissedPings("alpha")
	for i := 0; i < model.PingMissThreshold-1; i++ {
		if r.IncrementMissedPingsAndCheck("alpha") {
			t.Fatal("reset did not clear the missed-ping counter")
		}
	}
}

func TestSnapshotIsCaseInsensitivelySorted(t *testing.T) {
	r := NewRegistry()
	r.SetBegin("Zeta", "a", 1)
	r.SetBegin("alpha", "b", 2)
	r.SetBegin("Beta", "c", 3)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() has %d entries, want 3", len(snap))
	}
	names := []string{snap[0].Name, snap[1].Name, snap[2].Name}
	want := []string{"alpha", "Beta", "Zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Snapshot() order = %v, want %v", names, want)
		}
	}
}

func TestPushPoseAndPoseHistoryOf(t *testing.T) {
	r := NewRegistry()
	r.SetBegin("alpha", "a", 1)
	r.PushPose("alpha", model.Pose{X: 1, Y: 2, Theta: 0, Visible: true})

	got := r.PoseHistoryOf("alpha")
	if !got.Visible || got.X != 1 {
		t.Fatalf("PoseHistoryOf() = %+v, want the pushed visible pose", got)
	}
}

func TestPoseHistoryOfUnknownNameIsSentinel(t *testing.T) {
	r := NewRegistry()
	got := r.PoseHistoryOf("never-seen")
	if got.Visible || got.X != model.Sentinel {
		t.Fatalf("PoseHistoryOf(unknown) = %+v, want sentinel", got)
	}
}
