// Package hms implements the core of the Cytomine Hyperspectral Management
// Server: a tile-ingest pipeline that materialises a multi-slice microscopy
// image into a chunked HDF5 cube, and a profile-query engine that answers
// spectral queries over 2-D regions of interest of that cube.
package hms

// ImageDescriptor is the input to ingest.
type ImageDescriptor struct {
	Width          uint32
	Height         uint32
	OriginalName   string
	Channels       uint32
	Depth          uint32
	Duration       uint32
	BitsPerSample  uint8
	HasBitsPerSample bool
}

// SpectralDimension identifies which axis of the image descriptor is the
// cube's spectral/temporal axis.
type SpectralDimension int

const (
	DimNone SpectralDimension = iota
	DimChannel
	DimZStack
	DimTime
)

// Dimension returns the spectral dimension of the image, or DimNone if the
// image is not hyperspectral (channels=depth=duration=1).
func (d ImageDescriptor) Dimension() SpectralDimension {
	switch {
	case d.Channels > 1:
		return DimChannel
	case d.Depth > 1:
		return DimZStack
	case d.Duration > 1:
		return DimTime
	default:
		return DimNone
	}
}

// Bpc returns the configured bits-per-channel, defaulting to 8 when unset.
func (d ImageDescriptor) Bpc() uint8 {
	if d.HasBitsPerSample && d.BitsPerSample > 0 {
		return d.BitsPerSample
	}
	return 8
}

// SliceDescriptor is one value along the spectral dimension. Rank is
// authoritative for cube placement; it is not assumed equal to the
// slice's position within the slice sequence.
type SliceDescriptor struct {
	Rank          uint32
	Channel       uint32
	ZStack        uint32
	Time          uint32
	TileSourceURL string
	Path          string
}

// TileSpec names exactly one tile to fetch and place: a tile column/row
// and the slice it belongs to.
type TileSpec struct {
	X     int
	Y     int
	Slice SliceDescriptor
}

// Tile is a decoded crop together with its actual (possibly edge-clipped)
// pixel dimensions.
type Tile struct {
	Width  int
	Height int
	// Pix holds Width*Height elements, row-major, widened to uint16 so a
	// single in-memory representation serves both bpc<=8 and bpc>8
	// cubes; the cube store narrows on write according to its own dtype.
	Pix []uint16
}

// TilingPlan captures the tile geometry derived from an image's width,
// height and the configured tile size.
type TilingPlan struct {
	Width, Height int
	TileSize      int
	XTiles        int
	YTiles        int
}

// NewTilingPlan computes XTiles/YTiles as ceil(W/T) and ceil(H/T).
func NewTilingPlan(width, height, tileSize int) TilingPlan {
	return TilingPlan{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		XTiles:   ceilDiv(width, tileSize),
		YTiles:   ceilDiv(height, tileSize),
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Region is the pixel rectangle a single tile spec covers within the full
// image, clipped at the right/bottom edges.
func (p TilingPlan) Region(x, y int) (left, top, width, height int) {
	left = x * p.TileSize
	top = y * p.TileSize
	width = minInt(p.TileSize, p.Width-left)
	height = minInt(p.TileSize, p.Height-top)
	return
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Reduction is a closed enum of the three pixel reductions the profile
// engine supports, in place of a dynamically dispatched callable.
type Reduction int

const (
	ReduceMin Reduction = iota
	ReduceMax
	ReduceMean
)

func (r Reduction) String() string {
	switch r {
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	case ReduceMean:
		return "mean"
	default:
		return "unknown"
	}
}
