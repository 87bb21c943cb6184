// Package model holds the data types shared across the perception and
// distribution halves of the coordinator: detected markers, the cached
// arena transform, per-marker pose, and per-robot state.
package model

import (
	"fmt"
	"time"
)

// Sentinel is the coordinate value reported whenever an arena-space pose
// cannot be established for a marker (out of bounds, or not observed).
const Sentinel = -1.0

// Point2 is a 2D point in image pixels or arena units depending on context.
type Point2 struct {
	X, Y float64
}

// Marker is a detected fiducial in one frame. Corners are always ordered
// TL, TR, BR, BL regardless of the order the detector first observed them.
type Marker struct {
	ID      int
	Corners [4]Point2
	Center  Point2
}

// Transform is a 3x3 perspective matrix in row-major order.
type Transform [3][3]float64

// Apply maps a single point through the transform (homogeneous divide).
func (t Transform) Apply(p Point2) Point2 {
	x := t[0][0]*p.X + t[0][1]*p.Y + t[0][2]
	y := t[1][0]*p.X + t[1][1]*p.Y + t[1][2]
	w := t[2][0]*p.X + t[2][1]*p.Y + t[2][2]
	if w == 0 {
		return Point2{}
	}
	return Point2{X: x / w, Y: y / w}
}

// Invert returns the matrix inverse, used to walk a perspective mapping
// backward (e.g. sampling source pixels for a destination grid).
func (t Transform) Invert() (Transform, error) {
	a, b, c := t[0][0], t[0][1], t[0][2]
	d, e, f := t[1][0], t[1][1], t[1][2]
	g, h, i := t[2][0], t[2][1], t[2][2]

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if det == 0 {
		return Transform{}, errSingular
	}
	inv := 1 / det
	return Transform{
		{(e*i - f*h) * inv, (c*h - b*i) * inv, (b*f - c*e) * inv},
		{(f*g - d*i) * inv, (a*i - c*g) * inv, (c*d - a*f) * inv},
		{(d*h - e*g) * inv, (b*g - a*h) * inv, (a*e - b*d) * inv},
	}, nil
}

// ArenaTransform is the cached pixel<->arena and pixel<->crop mapping.
// Both halves are always produced together from the same observation of
// the four corner markers; a reader never sees one half newer than the
// other.
type ArenaTransform struct {
	ImgToArena Transform
	ImgToCrop  Transform
	ComputedAt time.Time
}

// Pose is a marker's arena-space pose for one frame.
type Pose struct {
	X, Y, Theta float64
	Visible     bool
}

// SentinelPose is the fixed "no valid pose" triple.
func SentinelPose() Pose { return Pose{X: Sentinel, Y: Sentinel, Theta: Sentinel, Visible: false} }

// PoseHistoryLen is the fixed rolling-history length per robot.
const PoseHistoryLen = 5

// PoseHistory is a bounded FIFO of the most recent PoseHistoryLen samples,
// newest at the tail.
type PoseHistory struct {
	samples [PoseHistoryLen]Pose
	count   int
	next    int
}

// Push appends a sample, evicting the oldest once full.
func (h *PoseHistory) Push(p Pose) {
	h.samples[h.next] = p
	h.next = (h.next + 1) % PoseHistoryLen
	if h.count < PoseHistoryLen {
		h.count++
	}
}

// NewestValid returns the newest visible sample, scanning from the tail
// backward, or the sentinel if none of the stored samples are visible.
func (h *PoseHistory) NewestValid() Pose {
	for i := 0; i < h.count; i++ {
		idx := (h.next - 1 - i + 2*PoseHistoryLen) % PoseHistoryLen
		if h.samples[idx].Visible {
			return h.samples[idx]
		}
	}
	return SentinelPose()
}

// SolveHomography computes the 3x3 perspective transform mapping each
// src[i] to dst[i] exactly, via direct linear transform on the 8-unknown
// system (h33 normalised to 1). Used for the arena and crop transforms
// and for the marker decoder's per-candidate unwarp.
func SolveHomography(src, dst [4]Point2) (Transform, error) {
	// Build the 8x9 augmented matrix for A*h = b, h = [h11 h12 h13 h21 h22 h23 h31 h32], h33 = 1.
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		r0 := 2 * i
		a[r0] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		r1 := 2*i + 1
		a[r1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	h, err := solveLinear8(a)
	if err != nil {
		return Transform{}, err
	}

	return Transform{
		{h[0], h[1], h[2]},
		{h[3], h[4], h[5]},
		{h[6], h[7], 1},
	}, nil
}

// solveLinear8 solves the 8x8 linear system given as an 8x9 augmented
// matrix via Gaussian elimination with partial pivoting.
func solveLinear8(a [8][9]float64) ([8]float64, error) {
	const n = 8
	for col := 0; col < n; col++ {
		pivot := col
		best := a[col][col]
		if best < 0 {
			best = -best
		}
		for r := col + 1; r < n; r++ {
			v := a[r][col]
			if v < 0 {
				v = -v
			}
			if v > best {
				pivot, best = r, v
			}
		}
		if best < 1e-12 {
			return [8]float64{}, errSingular
		}
		a[col], a[pivot] = a[pivot], a[col]

		pv := a[col][col]
		for c := col; c <= n; c++ {
			a[col][c] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := a[r][col]
			if factor == 0 {
				continue
			}
			for c := col; c <= n; c++ {
				a[r][c] -= factor * a[col][c]
			}
		}
	}
	var h [8]float64
	for i := 0; i < n; i++ {
		h[i] = a[i][n]
	}
	return h, nil
}

var errSingular = fmt.Errorf("homography: singular correspondence")

// PingIntervalSeconds and PingMissThreshold set the liveness cadence: a
// server-initiated ping every 5 seconds, disconnect after 5 consecutive
// unacknowledged pings.
const (
	PingIntervalSeconds = 5
	PingMissThreshold   = 5
)
