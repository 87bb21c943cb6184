// Package marker decodes 4x4 binary-code fiducials in a decoded frame:
// adaptive thresholding at several window sizes for uneven lighting,
// connected-component quad candidates, a perspective unwarp of each
// candidate, and a dictionary lookup of the sampled bit pattern. Corners
// come out ordered TL, TR, BR, BL.
package marker

import (
	"image"
	"sort"

	"github.com/umdenes100/visionarena/internal/model"
)

// Config holds the detection parameters: the adaptive-threshold window
// schedule and the dictionary size.
type Config struct {
	AdaptiveThreshMin  int
	AdaptiveThreshMax  int
	AdaptiveThreshStep int
	DictionarySize     int // 1000
}

func DefaultConfig() Config {
	return Config{AdaptiveThreshMin: 3, AdaptiveThreshMax: 23, AdaptiveThreshStep: 10, DictionarySize: 1000}
}

// Detector decodes markers from BGR (or any color) images.
type Detector struct {
	cfg  Config
	dict dictionary
}

func New(cfg Config) *Detector { return &Detector{cfg: cfg, dict: newDictionary(cfg.DictionarySize)} }

// Detect returns every marker found in img, keyed by id. Duplicate ids
// within the frame keep the first occurrence; a sampled 4x4 bit pattern
// that doesn't match any codeword in the dictionary is dropped.
func (d *Detector) Detect(img image.Image) map[int]model.Marker {
	gray, w, h := toGray(img)
	out := make(map[int]model.Marker)

	for win := d.cfg.AdaptiveThreshMin; win <= d.cfg.AdaptiveThreshMax; win += d.cfg.AdaptiveThreshStep {
		binary := adaptiveThreshold(gray, w, h, win)
		for _, quad := range findQuadCandidates(binary, w, h) {
			id, ok := decodeQuad(d.dict, gray, w, h, quad)
			if !ok {
				continue
			}
			if _, exists := out[id]; exists {
				continue
			}
			out[id] = toMarker(id, quad)
		}
	}
	return out
}

func toMarker(id int, quad [4]model.Point2) model.Marker {
	var center model.Point2
	for _, p := range quad {
		center.X += p.X / 4
		center.Y += p.Y / 4
	}
	return model.Marker{ID: id, Corners: quad, Center: center}
}

// toGray converts an arbitrary image.Image to 8-bit grayscale.
func toGray(img image.Image) ([]byte, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// Rec. 601 luma, operating on the 16-bit channel values RGBA() returns.
			lum := (299*r + 587*g + 114*bl) / 1000
			out[y*w+x] = byte(lum >> 8)
		}
	}
	return out, w, h
}

// adaptiveThreshold produces a binary image (1 = dark/foreground) using a
// local mean over a window x window block, via a summed-area table so each
// window size is still a single linear pass.
func adaptiveThreshold(gray []byte, w, h, window int) []byte {
	if window < 3 {
		window = 3
	}
	half := window / 2
	integral := make([]int64, (w+1)*(h+1))
	idx := func(x, y int) int { return y*(w+1) + x }
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(gray[y*w+x])
			integral[idx(x+1, y+1)] = integral[idx(x+1, y)] + rowSum
		}
	}
	sum := func(x0, y0, x1, y1 int) int64 {
		if x0 < 0 {
			x0 = 0
		}
		if y0 < 0 {
			y0 = 0
		}
		if x1 >= w {
			x1 = w - 1
		}
		if y1 >= h {
			y1 = h - 1
		}
		return integral[idx(x1+1, y1+1)] - integral[idx(x0, y1+1)] - integral[idx(x1+1, y0)] + integral[idx(x0, y0)]
	}

	out := make([]byte, w*h)
	const c = 7 // constant subtracted from the local mean, as a typical adaptive-threshold bias
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, x1 := x-half, x+half
			y0, y1 := y-half, y+half
			area := int64((min(x1, w-1) - max(x0, 0) + 1) * (min(y1, h-1) - max(y0, 0) + 1))
			if area <= 0 {
				continue
			}
			mean := sum(x0, y0, x1, y1) / area
			if int64(gray[y*w+x]) < mean-c {
				out[y*w+x] = 1
			}
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// findQuadCandidates labels connected dark components and approximates
// each sufficiently large one as a quadrilateral.
func findQuadCandidates(binary []byte, w, h int) [][4]model.Point2 {
	visited := make([]bool, w*h)
	var quads [][4]model.Point2

	const minArea = 400 // discard noise-sized components

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			if binary[p] == 0 || visited[p] {
				continue
			}
			pts := floodFill(binary, visited, w, h, x, y)
			if len(pts) < minArea {
				continue
			}
			quad, ok := approxQuad(pts)
			if !ok {
				continue
			}
			quads = append(quads, quad)
		}
	}
	return quads
}

// floodFill gathers every pixel in the 4-connected component containing
// (sx,sy), marking visited as it goes.
func floodFill(binary []byte, visited []bool, w, h, sx, sy int) []image.Point {
	stack := []image.Point{{X: sx, Y: sy}}
	visited[sy*w+sx] = true
	var pts []image.Point
	const maxComponent = 500_000
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pts = append(pts, p)
		if len(pts) > maxComponent {
			break
		}
		neighbors := [4]image.Point{{p.X + 1, p.Y}, {p.X - 1, p.Y}, {p.X, p.Y + 1}, {p.X, p.Y - 1}}
		for _, n := range neighbors {
			if n.X < 0 || n.X >= w || n.Y < 0 || n.Y >= h {
				continue
			}
			idx := n.Y*w + n.X
			if visited[idx] || binary[idx] == 0 {
				continue
			}
			visited[idx] = true
			stack = append(stack, n)
		}
	}
	return pts
}

// approxQuad reduces a component's pixel set to an ordered 4-corner quad
// (TL, TR, BR, BL) using the standard "extreme of x+y / x-y" corner
// heuristic on the component's convex hull. Adequate for the
// near-fronto-parallel markers a ceiling camera observes; skewed views are
// handled poorly, which is acceptable for this application's geometry.
func approxQuad(pts []image.Point) ([4]model.Point2, bool) {
	hull := convexHull(pts)
	if len(hull) < 4 {
		return [4]model.Point2{}, false
	}

	var tl, tr, br, bl image.Point
	minSum, maxSum := 1<<31, -(1 << 31)
	minDiff, maxDiff := 1<<31, -(1 << 31)
	for _, p := range hull {
		s := p.X + p.Y
		d := p.X - p.Y
		if s < minSum {
			minSum, tl = s, p
		}
		if s > maxSum {
			maxSum, br = s, p
		}
		if d > maxDiff {
			maxDiff, tr = d, p
		}
		if d < minDiff {
			minDiff, bl = d, p
		}
	}

	quad := [4]model.Point2{
		{X: float64(tl.X), Y: float64(tl.Y)},
		{X: float64(tr.X), Y: float64(tr.Y)},
		{X: float64(br.X), Y: float64(br.Y)},
		{X: float64(bl.X), Y: float64(bl.Y)},
	}
	if degenerate(quad) {
		return quad, false
	}
	return quad, true
}

func degenerate(q [4]model.Point2) bool {
	area := 0.0
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		area += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	if area < 0 {
		area = -area
	}
	return area < 1
}

// convexHull computes the convex hull of a point set via the monotone
// chain algorithm.
func convexHull(pts []image.Point) []image.Point {
	uniq := dedupe(pts)
	sort.Slice(uniq, func(i, j int) bool {
		if uniq[i].X != uniq[j].X {
			return uniq[i].X < uniq[j].X
		}
		return uniq[i].Y < uniq[j].Y
	})
	n := len(uniq)
	if n < 3 {
		return uniq
	}
	cross := func(o, a, b image.Point) int {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make([]image.Point, 0, 2*n)
	for _, p := range uniq {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := uniq[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// dedupe returns a copy of pts with repeated points removed, keeping the
// first occurrence of each.
func dedupe(pts []image.Point) []image.Point {
	seen := make(map[image.Point]struct{}, len(pts))
	out := make([]image.Point, 0, len(pts))
	for _, p := range pts {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// cellGridSize is the side length of the payload grid inside the black
// border ring.
const cellGridSize = 4

// bitGrid is the sampled 4x4 payload, row-major, before it is checked
// against the dictionary.
type bitGrid [cellGridSize][cellGridSize]bool

// dictionary is the predefined set of recognised codewords: a 1-1 mapping
// from a packed 16-bit bit pattern to a marker id in [0, size). A sampled
// pattern that doesn't appear here in any of the 4 grid rotations is
// dropped.
type dictionary map[uint16]int

// dictionaryMultiplier is a fixed odd constant (so multiplication mod
// 2^16 is a bijection) used to scramble ids into codewords spread across
// the 16-bit pattern space.
const dictionaryMultiplier = 40503

func codeword(id int) uint16 { return uint16(uint32(id) * dictionaryMultiplier) }

// newDictionary builds the id -> codeword -> id round trip for every id in
// [0, size).
func newDictionary(size int) dictionary {
	d := make(dictionary, size)
	for id := 0; id < size; id++ {
		d[codeword(id)] = id
	}
	return d
}

// lookup checks every 90-degree rotation of g against the dictionary,
// since the TL/TR/BR/BL corner assignment from approxQuad is an image-space
// heuristic independent of the marker's printed orientation.
func (d dictionary) lookup(g bitGrid) (int, bool) {
	for i := 0; i < 4; i++ {
		if id, ok := d[packGrid(g)]; ok {
			return id, true
		}
		g = rotateGrid90(g)
	}
	return 0, false
}

func packGrid(g bitGrid) uint16 {
	var v uint16
	for r := 0; r < cellGridSize; r++ {
		for c := 0; c < cellGridSize; c++ {
			v <<= 1
			if g[r][c] {
				v |= 1
			}
		}
	}
	return v
}

// rotateGrid90 rotates g 90 degrees clockwise.
func rotateGrid90(g bitGrid) bitGrid {
	var out bitGrid
	for r := 0; r < cellGridSize; r++ {
		for c := 0; c < cellGridSize; c++ {
			out[c][cellGridSize-1-r] = g[r][c]
		}
	}
	return out
}

// decodeQuad perspective-unwarps the candidate quad to a fixed grid, checks
// the outer ring is a solid black border, samples the interior 4x4 payload
// cells, and looks the resulting bit pattern up in dict.
func decodeQuad(dict dictionary, gray []byte, w, h int, quad [4]model.Point2) (int, bool) {
	const cell = 12
	const gridCells = cellGridSize + 2 // 1-cell black border + 4x4 payload + 1-cell border
	const gridPx = cell * gridCells

	dst := [4]model.Point2{{X: 0, Y: 0}, {X: gridPx - 1, Y: 0}, {X: gridPx - 1, Y: gridPx - 1}, {X: 0, Y: gridPx - 1}}
	fwd, err := model.SolveHomography(dst, quad) // dst(grid) -> quad(image), so we can sample image at grid coords
	if err != nil {
		return 0, false
	}

	sample := func(gx, gy int) bool {
		p := fwd.Apply(model.Point2{X: float64(gx), Y: float64(gy)})
		ix, iy := int(p.X), int(p.Y)
		if ix < 0 || ix >= w || iy < 0 || iy >= h {
			return false
		}
		return gray[iy*w+ix] < 128
	}

	cellDark := func(cx, cy int) bool {
		dark, total := 0, 0
		for dy := cell / 4; dy < cell-cell/4; dy++ {
			for dx := cell / 4; dx < cell-cell/4; dx++ {
				total++
				if sample(cx*cell+dx, cy*cell+dy) {
					dark++
				}
			}
		}
		return dark*2 > total
	}

	for c := 0; c < gridCells; c++ {
		if !cellDark(c, 0) || !cellDark(c, gridCells-1) || !cellDark(0, c) || !cellDark(gridCells-1, c) {
			return 0, false
		}
	}

	var grid bitGrid
	for cy := 0; cy < cellGridSize; cy++ {
		for cx := 0; cx < cellGridSize; cx++ {
			grid[cy][cx] = cellDark(cx+1, cy+1)
		}
	}
	return dict.lookup(grid)
}
