// Package arena owns the cached pixel<->arena homography and pixel<->crop
// transform, and computes per-marker arena-space pose. The four corner
// markers anchor both mappings: each marker's BL corner is its origin, the
// crop quad is built from the outward-most corner of each corner marker,
// and the cached transform pair survives corner-marker blinks between
// refreshes.
package arena

import (
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/umdenes100/visionarena/internal/marker"
	"github.com/umdenes100/visionarena/internal/model"
)

// Config is the immutable arena geometry: corner marker ids, their
// physical coordinates, crop output size, and the refresh/expansion knobs.
type Config struct {
	IDBL, IDTL, IDTR, IDBR             int
	WorldBL, WorldTL, WorldTR, WorldBR model.Point2

	OutputWidth, OutputHeight int
	CropRefreshSeconds        float64
	BorderMarkerFraction      float64
	VerticalPaddingFraction   float64

	XMin, XMax, YMin, YMax float64
}

func DefaultConfig() Config {
	return Config{
		IDBL: 0, IDTL: 1, IDTR: 2, IDBR: 3,
		WorldBL: model.Point2{X: 0, Y: 0},
		WorldTL: model.Point2{X: 0, Y: 2},
		WorldTR: model.Point2{X: 4, Y: 2},
		WorldBR: model.Point2{X: 4, Y: 0},
		OutputWidth: 1000, OutputHeight: 500,
		CropRefreshSeconds:      600.0,
		BorderMarkerFraction:    0.5,
		VerticalPaddingFraction: 0.01,
		XMin: 0, XMax: 4, YMin: 0, YMax: 2,
	}
}

// Mapper owns the ArenaTransform cache plus the most recent detection
// result, guarded by a single mutex. One writer (the processing loop),
// many readers (protocol handlers, the roster broadcaster).
type Mapper struct {
	cfg Config
	det *marker.Detector

	mu        sync.RWMutex
	transform *model.ArenaTransform
	markers   map[int]model.Marker
	poses     map[int]model.Pose
}

func NewMapper(cfg Config, det *marker.Detector) *Mapper {
	return &Mapper{cfg: cfg, det: det}
}

// Process runs detection on img, refreshes the transform when permitted,
// and computes per-marker pose. Returns the markers found and whether the
// transform was refreshed this call.
func (m *Mapper) Process(img image.Image) (map[int]model.Marker, bool) {
	markers := m.det.Detect(img)

	m.mu.Lock()
	defer m.mu.Unlock()

	refreshed := m.maybeRefreshLocked(markers)
	m.markers = markers
	m.poses = make(map[int]model.Pose, len(markers))
	for id, mk := range markers {
		m.poses[id] = m.poseOfMarkerLocked(mk)
	}
	return markers, refreshed
}

// Seen reports whether id was present in the most recently processed frame.
func (m *Mapper) Seen(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.markers[id]
	return ok
}

// PoseOf returns the cached arena pose for id from the most recently
// processed frame, or the sentinel if id was not observed.
func (m *Mapper) PoseOf(id int) model.Pose {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.poses[id]; ok {
		return p
	}
	return model.SentinelPose()
}

// Transform returns a copy of the current cached transform, if one exists.
func (m *Mapper) Transform() (model.ArenaTransform, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.transform == nil {
		return model.ArenaTransform{}, false
	}
	return *m.transform, true
}

func (m *Mapper) haveCornerMarkersLocked(markers map[int]model.Marker) bool {
	ids := []int{m.cfg.IDBL, m.cfg.IDTL, m.cfg.IDTR, m.cfg.IDBR}
	for _, id := range ids {
		if _, ok := markers[id]; !ok {
			return false
		}
	}
	return true
}

// maybeRefreshLocked refreshes only when all four corner markers are
// visible and either no cached transform exists or the refresh interval
// has elapsed. Otherwise the cache survives untouched, even if a corner
// marker blinks out.
func (m *Mapper) maybeRefreshLocked(markers map[int]model.Marker) bool {
	if !m.haveCornerMarkersLocked(markers) {
		return false
	}
	now := time.Now()
	if m.transform != nil && now.Sub(m.transform.ComputedAt).Seconds() < m.cfg.CropRefreshSeconds {
		return false
	}

	t, err := m.computeTransformsLocked(markers)
	if err != nil {
		return false
	}
	t.ComputedAt = now
	m.transform = &t
	return true
}

func markerOriginPx(mk model.Marker) model.Point2 { return mk.Corners[3] } // BL
func markerTopLeftPx(mk model.Marker) model.Point2 { return mk.Corners[0] } // TL

// outerCorner returns the corner marker's own corner matching which side
// of the arena it sits on: the TL marker's TL corner, the TR marker's TR
// corner, and so on.
func outerCorner(mk model.Marker, which int) model.Point2 { return mk.Corners[which] }

const (
	cornerTL = 0
	cornerTR = 1
	cornerBR = 2
	cornerBL = 3
)

func meanMarkerEdgePx(markers map[int]model.Marker, ids []int) float64 {
	var total float64
	var n int
	for _, id := range ids {
		mk, ok := markers[id]
		if !ok {
			continue
		}
		for i := 0; i < 4; i++ {
			j := (i + 1) % 4
			total += dist(mk.Corners[i], mk.Corners[j])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func dist(a, b model.Point2) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Hypot(dx, dy)
}

// expandQuadRadial pushes each point outward from the quad's centroid by
// borderPx along its radial direction.
func expandQuadRadial(quad [4]model.Point2, borderPx float64) [4]model.Point2 {
	var centroid model.Point2
	for _, p := range quad {
		centroid.X += p.X / 4
		centroid.Y += p.Y / 4
	}
	var out [4]model.Point2
	for i, p := range quad {
		dx, dy := p.X-centroid.X, p.Y-centroid.Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			out[i] = p
			continue
		}
		out[i] = model.Point2{X: p.X + dx/length*borderPx, Y: p.Y + dy/length*borderPx}
	}
	return out
}

// applyVerticalPadding dilates the quad slightly along its vertical axis
// so the crop keeps a sliver of margin above and below the marker line.
func applyVerticalPadding(quad [4]model.Point2, fraction float64) [4]model.Point2 {
	topMid := model.Point2{X: (quad[cornerTL].X + quad[cornerTR].X) / 2, Y: (quad[cornerTL].Y + quad[cornerTR].Y) / 2}
	botMid := model.Point2{X: (quad[cornerBL].X + quad[cornerBR].X) / 2, Y: (quad[cornerBL].Y + quad[cornerBR].Y) / 2}
	v := model.Point2{X: botMid.X - topMid.X, Y: botMid.Y - topMid.Y}

	out := quad
	out[cornerTL] = model.Point2{X: quad[cornerTL].X - v.X*fraction, Y: quad[cornerTL].Y - v.Y*fraction}
	out[cornerTR] = model.Point2{X: quad[cornerTR].X - v.X*fraction, Y: quad[cornerTR].Y - v.Y*fraction}
	out[cornerBR] = model.Point2{X: quad[cornerBR].X + v.X*fraction, Y: quad[cornerBR].Y + v.Y*fraction}
	out[cornerBL] = model.Point2{X: quad[cornerBL].X + v.X*fraction, Y: quad[cornerBL].Y + v.Y*fraction}
	return out
}

// computeTransformsLocked builds imgToArena from the corner markers' BL
// (origin) pixels, and imgToCrop from their outer corners after radial
// expansion and vertical padding. Both halves come from the same
// observation so a reader never sees a mismatched pair.
func (m *Mapper) computeTransformsLocked(markers map[int]model.Marker) (model.ArenaTransform, error) {
	mBL, mTL, mTR, mBR := markers[m.cfg.IDBL], markers[m.cfg.IDTL], markers[m.cfg.IDTR], markers[m.cfg.IDBR]

	srcArena := [4]model.Point2{markerOriginPx(mTL), markerOriginPx(mTR), markerOriginPx(mBR), markerOriginPx(mBL)}
	dstArena := [4]model.Point2{m.cfg.WorldTL, m.cfg.WorldTR, m.cfg.WorldBR, m.cfg.WorldBL}
	imgToArena, err := model.SolveHomography(srcArena, dstArena)
	if err != nil {
		return model.ArenaTransform{}, fmt.Errorf("solving imgToArena: %w", err)
	}

	srcCrop := [4]model.Point2{
		outerCorner(mTL, cornerTL),
		outerCorner(mTR, cornerTR),
		outerCorner(mBR, cornerBR),
		outerCorner(mBL, cornerBL),
	}
	meanSize := meanMarkerEdgePx(markers, []int{m.cfg.IDBL, m.cfg.IDTL, m.cfg.IDTR, m.cfg.IDBR})
	borderPx := meanSize * m.cfg.BorderMarkerFraction
	srcCrop = expandQuadRadial(srcCrop, borderPx)
	srcCrop = applyVerticalPadding(srcCrop, m.cfg.VerticalPaddingFraction)

	w, h := float64(m.cfg.OutputWidth), float64(m.cfg.OutputHeight)
	dstCrop := [4]model.Point2{{X: 0, Y: 0}, {X: w - 1, Y: 0}, {X: w - 1, Y: h - 1}, {X: 0, Y: h - 1}}
	imgToCrop, err := model.SolveHomography(srcCrop, dstCrop)
	if err != nil {
		return model.ArenaTransform{}, fmt.Errorf("solving imgToCrop: %w", err)
	}

	return model.ArenaTransform{ImgToArena: imgToArena, ImgToCrop: imgToCrop}, nil
}

// poseOfMarkerLocked maps mk's BL origin through imgToArena; out-of-bounds
// yields the sentinel. Otherwise also maps the TL corner and derives theta.
func (m *Mapper) poseOfMarkerLocked(mk model.Marker) model.Pose {
	if m.transform == nil {
		return model.SentinelPose()
	}
	origin := m.transform.ImgToArena.Apply(markerOriginPx(mk))
	// boundsEps absorbs solver rounding, so a corner marker's own origin
	// (mapped onto the arena edge) still counts as inside.
	const boundsEps = 1e-9
	if origin.X < m.cfg.XMin-boundsEps || origin.X > m.cfg.XMax+boundsEps || origin.Y < m.cfg.YMin-boundsEps || origin.Y > m.cfg.YMax+boundsEps {
		return model.SentinelPose()
	}
	tl := m.transform.ImgToArena.Apply(markerTopLeftPx(mk))
	theta := math.Atan2(tl.Y-origin.Y, tl.X-origin.X)
	return model.Pose{X: origin.X, Y: origin.Y, Theta: theta, Visible: true}
}
