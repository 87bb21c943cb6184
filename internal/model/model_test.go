package model

import (
	"math"
	"testing"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSolveHomographyIdentity(t *testing.T) {
	square := [4]Point2{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	tr, err := SolveHomography(square, square)
	if err != nil {
		t.Fatalf("SolveHomography: %v", err)
	}
	for _, p := range square {
		out := tr.Apply(p)
		if !approxEqual(out.X, p.X, 1e-6) || !approxEqual(out.Y, p.Y, 1e-6) {
			t.Errorf("identity mapping of %v = %v, want unchanged", p, out)
		}
	}
}

func TestSolveHomographyRoundTrip(t *testing.T) {
	src := [4]Point2{{X: 10, Y: 20}, {X: 300, Y: 15}, {X: 280, Y: 210}, {X: 5, Y: 200}}
	dst := [4]Point2{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 0, Y: 2}}

	fwd, err := SolveHomography(src, dst)
	if err != nil {
		t.Fatalf("forward SolveHomography: %v", err)
	}
	for i, s := range src {
		got := fwd.Apply(s)
		want := dst[i]
		if !approxEqual(got.X, want.X, 1e-6) || !approxEqual(got.Y, want.Y, 1e-6) {
			t.Errorf("corner %d: fwd.Apply(%v) = %v, want %v", i, s, got, want)
		}
	}

	inv, err := fwd.Invert()
	if err != nil {
		t.Fatalf("Invert: %v", err)
	}
	for i, d := range dst {
		got := inv.Apply(d)
		want := src[i]
		if !approxEqual(got.X, want.X, 1e-6) || !approxEqual(got.Y, want.Y, 1e-6) {
			t.Errorf("corner %d: inv.Apply(%v) = %v, want %v", i, d, got, want)
		}
	}
}

func TestSolveHomographyDegenerateIsSingular(t *testing.T) {
	// Three collinear points among the four correspondences make the system singular.
	src := [4]Point2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}}
	dst := [4]Point2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 1}}
	if _, err := SolveHomography(src, dst); err == nil {
		t.Fatal("expected an error solving a degenerate correspondence, got nil")
	}
}

func TestTransformInvertSingular(t *testing.T) {
	var zero Transform
	if _, err := zero.Invert(); err == nil {
		t.Fatal("expected an error inverting the zero matrix")
	}
}

func TestSentinelPose(t *testing.T) {
	p := SentinelPose()
	if p.Visible {
		t.Fatal("sentinel pose must not be visible")
	}
	if p.X != Sentinel || p.Y != Sentinel || p.Theta != Sentinel {
		t.Fatalf("sentinel pose fields = %+v, want all %v", p, Sentinel)
	}
}

func TestPoseHistoryNewestValidSkipsInvisible(t *testing.T) {
	var h PoseHistory
	h.Push(Pose{X: 1, Y: 1, Visible: true})
	h.Push(SentinelPose())
	h.Push(SentinelPose())

	got := h.NewestValid()
	if !got.Visible || got.X != 1 {
		t.Fatalf("NewestValid() = %+v, want the last visible sample", got)
	}
}

func TestPoseHistoryAllInvisibleReturnsSentinel(t *testing.T) {
	var h PoseHistory
	for i := 0; i < PoseHistoryLen; i++ {
		h.Push(SentinelPose())
	}
	got := h.NewestValid()
	if got.Visible || got.X != Sentinel {
		t.Fatalf("NewestValid() = %+v, want sentinel", got)
	}
}

func TestPoseHistoryEvictsOldest(t *testing.T) {
	var h PoseHistory
	for i := 0; i < PoseHistoryLen; i++ {
		h.Push(SentinelPose())
	}
	// Push one visible sample; it should still be found even though the
	// ring has wrapped completely once already.
	h.Push(Pose{X: 42, Visible: true})
	got := h.NewestValid()
	if got.X != 42 {
		t.Fatalf("NewestValid() = %+v, want the most recently pushed sample", got)
	}
}
