package hms

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCubeReader is an in-memory CubeReader used to test the profile
// engine (C5) without a real HDF5 file on disk.
type fakeCubeReader struct {
	height, width, nSlices int
	bpc                    uint8
	data                   []uint16 // row-major [height,width,nSlices]
}

func newFakeCubeReader(height, width, nSlices int, bpc uint8) *fakeCubeReader {
	return &fakeCubeReader{height: height, width: width, nSlices: nSlices, bpc: bpc, data: make([]uint16, height*width*nSlices)}
}

func (f *fakeCubeReader) set(r, c, k int, v uint16) {
	f.data[(r*f.width+c)*f.nSlices+k] = v
}

func (f *fakeCubeReader) Dims() (int, int, int, uint8) { return f.height, f.width, f.nSlices, f.bpc }

func (f *fakeCubeReader) ReadSlab(rowLo, rowHi, colLo, colHi, sliceLo, sliceHi int) (Slab, error) {
	slab := NewSlab(rowHi-rowLo, colHi-colLo, sliceHi-sliceLo)
	for r := rowLo; r < rowHi; r++ {
		for c := colLo; c < colHi; c++ {
			for k := sliceLo; k < sliceHi; k++ {
				slab.Set(r-rowLo, c-colLo, k-sliceLo, f.data[(r*f.width+c)*f.nSlices+k])
			}
		}
	}
	return slab, nil
}

func (f *fakeCubeReader) Close() error { return nil }

func TestRawProfileSinglePoint(t *testing.T) {
	reader := newFakeCubeReader(10, 10, 3, 8)
	reader.set(5, 5, 0, 11)
	reader.set(5, 5, 1, 12)
	reader.set(5, 5, 2, 13)

	// Cartesian (x=5,y=4) -> matrix row = H-1-4 = 5, col = 5.
	single, many, err := RawProfile(reader, orb.Point{5, 4}, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, single)
	assert.Nil(t, many)
	assert.Equal(t, []uint16{11, 12, 13}, single.Profile)
	assert.Equal(t, Point{X: 5, Y: 4}, single.Point)
}

func TestRawProfileEmptyGeometry(t *testing.T) {
	reader := newFakeCubeReader(10, 10, 3, 8)
	_, _, err := RawProfile(reader, orb.Point{100, 100}, 0, 0)
	assert.ErrorIs(t, err, ErrEmptyGeometry)
}

func TestPerPointStatsReduction(t *testing.T) {
	reader := newFakeCubeReader(4, 4, 3, 8)
	reader.set(1, 1, 0, 1)
	reader.set(1, 1, 1, 5)
	reader.set(1, 1, 2, 9)

	// Full-image rectangle: symmetric under the Cartesian/matrix flip, so
	// every matrix cell ends up masked regardless of the geometry's
	// area-vs-point translation offset.
	fullImage := orb.Polygon{{{0, 0}, {0, 4}, {4, 4}, {4, 0}, {0, 0}}}
	stats, err := PerPointStats(reader, fullImage, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, stats)

	var found bool
	for _, s := range stats {
		if s.Min == 1 && s.Max == 9 {
			found = true
			assert.Equal(t, 5.0, s.Average)
		}
	}
	assert.True(t, found, "expected to find the cell with the seeded profile")
}

func TestSliceRangeNormalisation(t *testing.T) {
	lo, hi := normaliseSliceRange(-1, 1000, 5)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 5, hi)

	lo, hi = normaliseSliceRange(2, 4, 5)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 4, hi)
}

func TestProjectionValuesMean(t *testing.T) {
	reader := newFakeCubeReader(4, 4, 2, 8)
	reader.set(0, 0, 0, 2)
	reader.set(0, 0, 1, 4)

	fullImage := orb.Polygon{{{0, 0}, {0, 4}, {4, 4}, {4, 0}, {0, 0}}}
	values, err := ProjectionValuesQuery(reader, fullImage, 0, 0, ReduceMean)
	require.NoError(t, err)
	assert.Equal(t, 3.0, values.At(0, 0))
}

func TestProjectionImageEncodesPNGForWideBpc(t *testing.T) {
	reader := newFakeCubeReader(4, 4, 2, 12)
	fullImage := orb.Polygon{{{0, 0}, {0, 4}, {4, 4}, {4, 0}, {0, 0}}}
	img, err := ProjectionImageQuery(reader, fullImage, 0, 0, ReduceMax, "jpg")
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format) // bpc>8 forces png regardless of requested fmt
	assert.NotEmpty(t, img.Bytes)
}
