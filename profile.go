package hms

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

// Point is a Cartesian (x,y) coordinate, origin bottom-left, as emitted
// by CartesianIndexes.
type Point struct {
	X, Y int
}

// RawProfilePoint is one element of a raw_profile result: a point and its
// full spectral profile (the slab's slice axis restricted to that cell).
type RawProfilePoint struct {
	Point   Point
	Profile []uint16
}

// PointStats is one element of a per_point_stats result.
type PointStats struct {
	Point   Point
	Min     uint16
	Max     uint16
	Average float64
}

// ProjectionValues is a 2-D reduction of the slab's spectral axis, row-major
// over the slab's [dr,dc] extent (not yet masked or cast).
type ProjectionValues struct {
	Rows, Cols int
	Values     []float64
}

func (p ProjectionValues) At(r, c int) float64 { return p.Values[r*p.Cols+c] }

// ProjectionImage is an encoded projection_image result.
type ProjectionImage struct {
	Format string // "png" or "jpg"
	Bytes  []byte
}

// normaliseSliceRange collapses out-of-range bounds to the full [0,S)
// range rather than erroring. A zero sHi means "unset" and selects
// through the last slice.
func normaliseSliceRange(sLo, sHi, total int) (int, int) {
	if sLo < 0 || sLo > total {
		sLo = 0
	}
	if sHi == 0 || sHi < sLo || sHi > total {
		sHi = total
	}
	return sLo, sHi
}

// queryContext is the common prefix of every profile query: prepare the
// geometry, rasterize it, find its bounding box, and read the
// corresponding slab.
type queryContext struct {
	slab   Slab
	maskBB Mask
	rowLo  int
	colLo  int
	height int
}

func prepareQuery(reader CubeReader, g orb.Geometry, sLo, sHi int) (*queryContext, error) {
	height, width, nSlices, _ := reader.Dims()

	gPrime := PrepareGeometry(height, width, g)
	if gPrime == nil {
		return nil, ErrEmptyGeometry
	}

	sLo, sHi = normaliseSliceRange(sLo, sHi, nSlices)

	mask := Rasterize(gPrime, height, width)
	if !mask.AnyTrue() {
		return nil, ErrEmptyMask
	}

	rowLo, rowHi, colLo, colHi, err := Bounds(mask)
	if err != nil {
		return nil, err
	}

	slab, err := reader.ReadSlab(rowLo, rowHi, colLo, colHi, sLo, sHi)
	if err != nil {
		return nil, err
	}

	maskBB := NewMask(rowHi-rowLo, colHi-colLo)
	for r := rowLo; r < rowHi; r++ {
		for c := colLo; c < colHi; c++ {
			maskBB.Set(r-rowLo, c-colLo, mask.At(r, c))
		}
	}

	return &queryContext{slab: slab, maskBB: maskBB, rowLo: rowLo, colLo: colLo, height: height}, nil
}

func (q *queryContext) point(i, j int) Point {
	row := q.rowLo + i
	col := q.colLo + j
	return Point{X: col, Y: q.height - 1 - row}
}

// RawProfile runs query shape `raw_profile`. If g is a single point and
// exactly one result is produced, single is non-nil and many is nil;
// otherwise many holds every masked cell in row-major order.
func RawProfile(reader CubeReader, g orb.Geometry, sLo, sHi int) (single *RawProfilePoint, many []RawProfilePoint, err error) {
	q, err := prepareQuery(reader, g, sLo, sHi)
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < q.maskBB.Height; i++ {
		for j := 0; j < q.maskBB.Width; j++ {
			if !q.maskBB.At(i, j) {
				continue
			}
			profile := make([]uint16, q.slab.Slices)
			for k := 0; k < q.slab.Slices; k++ {
				profile[k] = q.slab.At(i, j, k)
			}
			many = append(many, RawProfilePoint{Point: q.point(i, j), Profile: profile})
		}
	}

	if _, ok := g.(orb.Point); ok && len(many) == 1 {
		return &many[0], nil, nil
	}
	return nil, many, nil
}

// PerPointStats runs query shape `per_point_stats`.
func PerPointStats(reader CubeReader, g orb.Geometry, sLo, sHi int) ([]PointStats, error) {
	q, err := prepareQuery(reader, g, sLo, sHi)
	if err != nil {
		return nil, err
	}

	var out []PointStats
	for i := 0; i < q.maskBB.Height; i++ {
		for j := 0; j < q.maskBB.Width; j++ {
			if !q.maskBB.At(i, j) {
				continue
			}
			min, max, avg := reduceCell(q.slab, i, j)
			out = append(out, PointStats{Point: q.point(i, j), Min: min, Max: max, Average: avg})
		}
	}
	return out, nil
}

func reduceCell(slab Slab, i, j int) (min, max uint16, average float64) {
	values := make([]uint16, slab.Slices)
	for k := range values {
		values[k] = slab.At(i, j, k)
	}
	min = lo.Min(values)
	max = lo.Max(values)
	average = lo.Mean(lo.Map(values, func(v uint16, _ int) float64 { return float64(v) }))
	return
}

// ProjectionValuesQuery runs query shape `projection_values`: reduce the
// spectral axis of the whole bounding-box slab with f, without masking
// (masking only applies to the image encoding).
func ProjectionValuesQuery(reader CubeReader, g orb.Geometry, sLo, sHi int, f Reduction) (ProjectionValues, error) {
	q, err := prepareQuery(reader, g, sLo, sHi)
	if err != nil {
		return ProjectionValues{}, err
	}
	return reduceSlab(q.slab, f), nil
}

func reduceSlab(slab Slab, f Reduction) ProjectionValues {
	out := ProjectionValues{Rows: slab.Rows, Cols: slab.Cols, Values: make([]float64, slab.Rows*slab.Cols)}
	column := make([]uint16, slab.Slices)
	for i := 0; i < slab.Rows; i++ {
		for j := 0; j < slab.Cols; j++ {
			for k := range column {
				column[k] = slab.At(i, j, k)
			}
			var acc float64
			switch f {
			case ReduceMin:
				acc = float64(lo.Min(column))
			case ReduceMax:
				acc = float64(lo.Max(column))
			case ReduceMean:
				acc = lo.Mean(lo.Map(column, func(v uint16, _ int) float64 { return float64(v) }))
			}
			out.Values[i*slab.Cols+j] = acc
		}
	}
	return out
}

// ProjectionImageQuery runs query shape `projection_image(f, fmt)`:
// reduce, cast to the slab's element type (truncating mean), zero every
// cell outside maskBB, and encode. bpc>8 or an unrecognised fmt forces
// PNG; otherwise fmt is honoured.
func ProjectionImageQuery(reader CubeReader, g orb.Geometry, sLo, sHi int, f Reduction, fmt string) (ProjectionImage, error) {
	q, err := prepareQuery(reader, g, sLo, sHi)
	if err != nil {
		return ProjectionImage{}, err
	}

	_, _, _, bpc := reader.Dims()
	values := reduceSlab(q.slab, f)

	wide := bpc > 8
	effectiveFmt := fmt
	if wide || (fmt != "jpg" && fmt != "png") {
		effectiveFmt = "png"
	}

	img := castAndMask(values, q.maskBB, wide)

	var buf bytes.Buffer
	switch effectiveFmt {
	case "jpg":
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return ProjectionImage{}, err
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return ProjectionImage{}, err
		}
		effectiveFmt = "png"
	}

	return ProjectionImage{Format: effectiveFmt, Bytes: buf.Bytes()}, nil
}

// castAndMask truncates each projection value to the slab's element type
// and zeroes cells outside mask, producing a grayscale image matching the
// cube's own bit depth.
func castAndMask(values ProjectionValues, mask Mask, wide bool) image.Image {
	rect := image.Rect(0, 0, values.Cols, values.Rows)
	if wide {
		img := image.NewGray16(rect)
		for r := 0; r < values.Rows; r++ {
			for c := 0; c < values.Cols; c++ {
				var v uint16
				if mask.At(r, c) {
					v = uint16(values.At(r, c))
				}
				img.SetGray16(c, r, color.Gray16{Y: v})
			}
		}
		return img
	}

	img := image.NewGray(rect)
	for r := 0; r < values.Rows; r++ {
		for c := 0; c < values.Cols; c++ {
			var v uint8
			if mask.At(r, c) {
				v = uint8(values.At(r, c))
			}
			img.SetGray(c, r, color.Gray{Y: v})
		}
	}
	return img
}
