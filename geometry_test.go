package hms

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestChangeReferentialPoint(t *testing.T) {
	g := PrepareGeometry(10, 10, orb.Point{2, 3})
	p, ok := g.(orb.Point)
	assert.True(t, ok)
	assert.Equal(t, 2.0, p[0])
	assert.Equal(t, 6.0, p[1]) // H-1-y = 9-3
}

func TestChangeReferentialPolygonOffByOne(t *testing.T) {
	// Polygon translation uses H, not H-1, deliberately differing from
	// point/line geometries.
	square := orb.Polygon{{{0, 0}, {0, 2}, {2, 2}, {2, 0}, {0, 0}}}
	g := PrepareGeometry(10, 10, square)
	poly, ok := g.(orb.Polygon)
	assert.True(t, ok)
	// y=0 -> 10-0=10, y=2 -> 10-2=8
	assert.Equal(t, 10.0, poly[0][0][1])
	assert.Equal(t, 8.0, poly[0][1][1])
}

func TestPrepareGeometryClipsOutOfBounds(t *testing.T) {
	g := PrepareGeometry(10, 10, orb.Point{20, 20})
	assert.Nil(t, g)
}

func TestRasterizePolygonFillsInterior(t *testing.T) {
	square := orb.Polygon{{{1, 1}, {1, 4}, {4, 4}, {4, 1}, {1, 1}}}
	mask := Rasterize(square, 10, 10)
	assert.True(t, mask.At(2, 2))
	assert.False(t, mask.At(8, 8))
}

func TestRasterizePolygonWithHole(t *testing.T) {
	outer := orb.Ring{{0, 0}, {0, 6}, {6, 6}, {6, 0}, {0, 0}}
	hole := orb.Ring{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}}
	poly := orb.Polygon{outer, hole}
	mask := Rasterize(poly, 10, 10)
	assert.True(t, mask.At(1, 1))
	assert.False(t, mask.At(3, 3))
}

func TestBoundsEmptyMask(t *testing.T) {
	mask := NewMask(5, 5)
	_, _, _, _, err := Bounds(mask)
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestCartesianIndexesOrdering(t *testing.T) {
	mask := NewMask(3, 3)
	mask.Set(0, 0, true)
	mask.Set(0, 2, true)
	xs, ys := CartesianIndexes(3, mask)
	assert.Equal(t, []int{0, 2}, xs)
	assert.Equal(t, []int{2, 2}, ys)
}

func TestClipLineToBound(t *testing.T) {
	line := orb.LineString{{-5, 5}, {15, 5}}
	clipped := clipToBound(line, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
	ls, ok := clipped.(orb.LineString)
	assert.True(t, ok)
	assert.Equal(t, 0.0, ls[0][0])
	assert.Equal(t, 10.0, ls[1][0])
}
