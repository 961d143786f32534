package hms

import (
	"math"

	"github.com/paulmach/orb"
)

// Mask is a Boolean [H,W] matrix, true on pixels inside an ROI geometry.
// Stored row-major as a flat slice the way the cube slab reductions in
// profile.go consume it.
type Mask struct {
	Height, Width int
	Bits          []bool
}

func NewMask(height, width int) Mask {
	return Mask{Height: height, Width: width, Bits: make([]bool, height*width)}
}

func (m Mask) At(row, col int) bool {
	return m.Bits[row*m.Width+col]
}

func (m Mask) Set(row, col int, v bool) {
	m.Bits[row*m.Width+col] = v
}

// AnyTrue reports whether the mask has at least one true cell.
func (m Mask) AnyTrue() bool {
	for _, b := range m.Bits {
		if b {
			return true
		}
	}
	return false
}

// PrepareGeometry intersects g with the image rectangle [0,0,W,H] and
// changes it from Cartesian (origin bottom-left, Y up) to matrix
// coordinates (origin top-left, row down).
//
// The translation offset differs between area geometries (H) and
// point/line geometries (H-1): area rasterization uses half-open pixel
// cells while point rasterization targets exact integer cell indices.
// This off-by-one is deliberate and must not be unified.
func PrepareGeometry(height, width int, g orb.Geometry) orb.Geometry {
	clipped := clipToBound(g, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(width), float64(height)}})
	if clipped == nil {
		return nil
	}
	return changeReferential(clipped, height)
}

func changeReferential(g orb.Geometry, height int) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return orb.Point{v[0], float64(height-1) - v[1]}
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		for i, p := range v {
			out[i] = orb.Point{p[0], float64(height-1) - p[1]}
		}
		return out
	case orb.LineString:
		return transformLineString(v, float64(height-1))
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = transformLineString(ls, float64(height-1))
		}
		return out
	case orb.Polygon:
		return transformPolygon(v, float64(height))
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = transformPolygon(p, float64(height))
		}
		return out
	default:
		return g
	}
}

func transformLineString(ls orb.LineString, yoff float64) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = orb.Point{p[0], yoff - p[1]}
	}
	return out
}

func transformPolygon(p orb.Polygon, yoff float64) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		r := make(orb.Ring, len(ring))
		for j, pt := range ring {
			r[j] = orb.Point{pt[0], yoff - pt[1]}
		}
		out[i] = r
	}
	return out
}

// Rasterize performs scanline rasterization of g (already in matrix/
// identity space) to a Boolean [H,W] mask. A pixel's cell interior
// spans [col,col+1) x [row,row+1); area geometries are filled by
// even-odd scanline parity sampled at each cell's center, and
// point/line geometries set exact integer cells.
func Rasterize(g orb.Geometry, height, width int) Mask {
	mask := NewMask(height, width)
	if g == nil {
		return mask
	}
	switch v := g.(type) {
	case orb.Point:
		setPointCell(mask, v)
	case orb.MultiPoint:
		for _, p := range v {
			setPointCell(mask, p)
		}
	case orb.LineString:
		rasterizeLine(mask, v)
	case orb.MultiLineString:
		for _, ls := range v {
			rasterizeLine(mask, ls)
		}
	case orb.Polygon:
		rasterizePolygons(mask, []orb.Polygon{v})
	case orb.MultiPolygon:
		rasterizePolygons(mask, v)
	}
	return mask
}

func setPointCell(mask Mask, p orb.Point) {
	col := int(math.Round(p[0]))
	row := int(math.Round(p[1]))
	if row >= 0 && row < mask.Height && col >= 0 && col < mask.Width {
		mask.Set(row, col, true)
	}
}

func setCellIfInBounds(mask Mask, row, col int) {
	if row >= 0 && row < mask.Height && col >= 0 && col < mask.Width {
		mask.Set(row, col, true)
	}
}

// rasterizeLine marks every cell a polyline passes through, via Bresenham
// stepping between consecutive vertices rounded to the integer grid.
func rasterizeLine(mask Mask, ls orb.LineString) {
	if len(ls) == 0 {
		return
	}
	if len(ls) == 1 {
		setPointCell(mask, ls[0])
		return
	}
	for i := 0; i < len(ls)-1; i++ {
		bresenham(mask, ls[i], ls[i+1])
	}
}

func bresenham(mask Mask, a, b orb.Point) {
	x0, y0 := int(math.Round(a[0])), int(math.Round(a[1]))
	x1, y1 := int(math.Round(b[0])), int(math.Round(b[1]))

	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 >= x1 {
		sx = -1
	}
	if y0 >= y1 {
		sy = -1
	}
	err := dx + dy

	for {
		setCellIfInBounds(mask, y0, x0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// rasterizePolygons fills by even-odd scanline parity: for each row, cast
// a ray at the row's cell-center (row+0.5) against every ring edge of
// every polygon (outer rings and holes alike), sort the x-intersections,
// and fill columns whose center lies in an odd-parity span. Treating
// holes as ordinary rings in the same parity pass is what makes them
// subtract from the enclosing ring without special-casing.
func rasterizePolygons(mask Mask, polys []orb.Polygon) {
	type edge struct{ x0, y0, x1, y1 float64 }
	var edges []edge
	for _, poly := range polys {
		for _, ring := range poly {
			n := len(ring)
			for i := 0; i < n; i++ {
				a := ring[i]
				b := ring[(i+1)%n]
				if a[1] == b[1] {
					continue // horizontal edges never cross a scanline
				}
				edges = append(edges, edge{a[0], a[1], b[0], b[1]})
			}
		}
	}
	if len(edges) == 0 {
		return
	}

	for row := 0; row < mask.Height; row++ {
		scanY := float64(row) + 0.5
		var xs []float64
		for _, e := range edges {
			ylo, yhi := e.y0, e.y1
			if ylo > yhi {
				ylo, yhi = yhi, ylo
			}
			if scanY < ylo || scanY >= yhi {
				continue
			}
			t := (scanY - e.y0) / (e.y1 - e.y0)
			xs = append(xs, e.x0+t*(e.x1-e.x0))
		}
		if len(xs) == 0 {
			continue
		}
		sortFloats(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			colLo := int(math.Ceil(xs[i] - 0.5))
			colHi := int(math.Floor(xs[i+1] - 0.5))
			if colLo < 0 {
				colLo = 0
			}
			if colHi > mask.Width-1 {
				colHi = mask.Width - 1
			}
			for col := colLo; col <= colHi; col++ {
				mask.Set(row, col, true)
			}
		}
	}
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// Bounds returns the smallest axis-aligned rectangle covering every true
// cell of the mask, as half-open [rowLo,rowHi) x [colLo,colHi). Returns
// ErrEmptyMask if the mask has no true cell.
func Bounds(mask Mask) (rowLo, rowHi, colLo, colHi int, err error) {
	rowLo, colLo = math.MaxInt32, math.MaxInt32
	rowHi, colHi = -1, -1
	for r := 0; r < mask.Height; r++ {
		for c := 0; c < mask.Width; c++ {
			if !mask.At(r, c) {
				continue
			}
			if r < rowLo {
				rowLo = r
			}
			if r > rowHi {
				rowHi = r
			}
			if c < colLo {
				colLo = c
			}
			if c > colHi {
				colHi = c
			}
		}
	}
	if rowHi < 0 {
		return 0, 0, 0, 0, ErrEmptyMask
	}
	return rowLo, rowHi + 1, colLo, colHi + 1, nil
}

// CartesianIndexes returns the true cells of mask in row-major order as
// (x,y) Cartesian coordinates: x=column, y=height-1-row. This is the
// ordering contract per-point query results are emitted in.
func CartesianIndexes(height int, mask Mask) (xs, ys []int) {
	for r := 0; r < mask.Height; r++ {
		for c := 0; c < mask.Width; c++ {
			if mask.At(r, c) {
				xs = append(xs, c)
				ys = append(ys, height-1-r)
			}
		}
	}
	return xs, ys
}

// clipToBound intersects g with b, implemented directly (orb ships no
// general geometry/bound intersection): point containment for points,
// Cohen-Sutherland segment clipping for lines, Sutherland-Hodgman
// polygon clipping against the (convex, axis-aligned) bound for areas.
func clipToBound(g orb.Geometry, b orb.Bound) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		if b.Contains(v) {
			return v
		}
		return nil
	case orb.MultiPoint:
		var out orb.MultiPoint
		for _, p := range v {
			if b.Contains(p) {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.LineString:
		clipped := clipLineToBound(v, b)
		if len(clipped) == 0 {
			return nil
		}
		if len(clipped) == 1 {
			return clipped[0]
		}
		return orb.MultiLineString(clipped)
	case orb.MultiLineString:
		var out orb.MultiLineString
		for _, ls := range v {
			out = append(out, clipLineToBound(ls, b)...)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Polygon:
		clipped := clipPolygonToBound(v, b)
		if len(clipped) == 0 {
			return nil
		}
		return clipped
	case orb.MultiPolygon:
		var out orb.MultiPolygon
		for _, p := range v {
			clipped := clipPolygonToBound(p, b)
			if len(clipped) > 0 {
				out = append(out, clipped)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return g
	}
}

// clipLineToBound clips every segment of ls against b (Cohen-Sutherland)
// and reassembles maximal contiguous runs of surviving segments into
// LineStrings.
func clipLineToBound(ls orb.LineString, b orb.Bound) []orb.LineString {
	var out []orb.LineString
	var current orb.LineString
	for i := 0; i+1 < len(ls); i++ {
		a, bPt, ok := cohenSutherlandClip(ls[i], ls[i+1], b)
		if !ok {
			if len(current) > 1 {
				out = append(out, current)
			}
			current = nil
			continue
		}
		if len(current) == 0 {
			current = append(current, a)
		}
		current = append(current, bPt)
	}
	if len(current) > 1 {
		out = append(out, current)
	}
	return out
}

func cohenSutherlandClip(p0, p1 orb.Point, b orb.Bound) (orb.Point, orb.Point, bool) {
	const (
		inside = 0
		left   = 1
		right  = 2
		bottom = 4
		top    = 8
	)
	code := func(p orb.Point) int {
		c := inside
		if p[0] < b.Min[0] {
			c |= left
		} else if p[0] > b.Max[0] {
			c |= right
		}
		if p[1] < b.Min[1] {
			c |= bottom
		} else if p[1] > b.Max[1] {
			c |= top
		}
		return c
	}

	x0, y0 := p0[0], p0[1]
	x1, y1 := p1[0], p1[1]
	c0 := code(orb.Point{x0, y0})
	c1 := code(orb.Point{x1, y1})

	for {
		if c0 == 0 && c1 == 0 {
			return orb.Point{x0, y0}, orb.Point{x1, y1}, true
		}
		if c0&c1 != 0 {
			return orb.Point{}, orb.Point{}, false
		}
		co := c0
		if co == 0 {
			co = c1
		}
		var x, y float64
		switch {
		case co&top != 0:
			x = x0 + (x1-x0)*(b.Max[1]-y0)/(y1-y0)
			y = b.Max[1]
		case co&bottom != 0:
			x = x0 + (x1-x0)*(b.Min[1]-y0)/(y1-y0)
			y = b.Min[1]
		case co&right != 0:
			y = y0 + (y1-y0)*(b.Max[0]-x0)/(x1-x0)
			x = b.Max[0]
		case co&left != 0:
			y = y0 + (y1-y0)*(b.Min[0]-x0)/(x1-x0)
			x = b.Min[0]
		}
		if co == c0 {
			x0, y0 = x, y
			c0 = code(orb.Point{x0, y0})
		} else {
			x1, y1 = x, y
			c1 = code(orb.Point{x1, y1})
		}
	}
}

// clipPolygonToBound clips every ring of p against the rectangle b using
// Sutherland-Hodgman, valid because the clip window is convex.
func clipPolygonToBound(p orb.Polygon, b orb.Bound) orb.Polygon {
	var out orb.Polygon
	for i, ring := range p {
		clipped := sutherlandHodgman(ring, b)
		if len(clipped) < 3 {
			if i == 0 {
				return nil // outer ring vanished entirely
			}
			continue
		}
		out = append(out, clipped)
	}
	return out
}

func sutherlandHodgman(ring orb.Ring, b orb.Bound) orb.Ring {
	poly := []orb.Point(ring)

	clipEdge := func(in []orb.Point, inside func(orb.Point) bool, intersect func(orb.Point, orb.Point) orb.Point) []orb.Point {
		if len(in) == 0 {
			return nil
		}
		var out []orb.Point
		prev := in[len(in)-1]
		prevIn := inside(prev)
		for _, cur := range in {
			curIn := inside(cur)
			if curIn {
				if !prevIn {
					out = append(out, intersect(prev, cur))
				}
				out = append(out, cur)
			} else if prevIn {
				out = append(out, intersect(prev, cur))
			}
			prev = cur
			prevIn = curIn
		}
		return out
	}

	lerpX := func(p0, p1 orb.Point, x float64) orb.Point {
		t := (x - p0[0]) / (p1[0] - p0[0])
		return orb.Point{x, p0[1] + t*(p1[1]-p0[1])}
	}
	lerpY := func(p0, p1 orb.Point, y float64) orb.Point {
		t := (y - p0[1]) / (p1[1] - p0[1])
		return orb.Point{p0[0] + t*(p1[0]-p0[0]), y}
	}

	poly = clipEdge(poly, func(p orb.Point) bool { return p[0] >= b.Min[0] }, func(a, c orb.Point) orb.Point { return lerpX(a, c, b.Min[0]) })
	poly = clipEdge(poly, func(p orb.Point) bool { return p[0] <= b.Max[0] }, func(a, c orb.Point) orb.Point { return lerpX(a, c, b.Max[0]) })
	poly = clipEdge(poly, func(p orb.Point) bool { return p[1] >= b.Min[1] }, func(a, c orb.Point) orb.Point { return lerpY(a, c, b.Min[1]) })
	poly = clipEdge(poly, func(p orb.Point) bool { return p[1] <= b.Max[1] }, func(a, c orb.Point) orb.Point { return lerpY(a, c, b.Max[1]) })

	if len(poly) < 3 {
		return nil
	}
	return orb.Ring(poly)
}
