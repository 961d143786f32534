package hms

import (
	"errors"
	"os"
	"path/filepath"

	"gonum.org/v1/hdf5"
)

// CubeWriter is the write-once interface the ingest scheduler writes
// tiles through. Thread-unsafe: exclusive to the single writer worker.
type CubeWriter interface {
	WriteTile(rowLo, colLo int, sliceRank uint32, tile Tile) error
	Close() error
}

// CubeReader is the read-only interface the profile engine reads slabs
// through. One handle per query; never shared across requests.
type CubeReader interface {
	Dims() (height, width, nSlices int, bpc uint8)
	ReadSlab(rowLo, rowHi, colLo, colHi, sliceLo, sliceHi int) (Slab, error)
	Close() error
}

// Slab is a [dr,dc,ds] array read from the cube, row-major then column
// then slice.
type Slab struct {
	Rows, Cols, Slices int
	Data               []uint16 // widened; narrowed again on encode
}

func NewSlab(rows, cols, slices int) Slab {
	return Slab{Rows: rows, Cols: cols, Slices: slices, Data: make([]uint16, rows*cols*slices)}
}

func (s Slab) At(r, c, k int) uint16 {
	return s.Data[(r*s.Cols+c)*s.Slices+k]
}

func (s Slab) Set(r, c, k int, v uint16) {
	s.Data[(r*s.Cols+c)*s.Slices+k] = v
}

// hdf5Cube is the HDF5-backed cube: four scalar datasets (width, height,
// nSlices, bpc, all int64) and one 3-D dataset "data" of dtype uint8
// (bpc<=8) or uint16 (bpc>8). These five dataset names are load-bearing:
// external readers depend on them bit-for-bit.
type hdf5Cube struct {
	file              *hdf5.File
	dataset           *hdf5.Dataset
	height, width, n  int
	bpc               uint8
	wide              bool // true when bpc > 8 (uint16 storage)
}

// CreateCube creates the parent directories, the HDF5 file, the four
// scalar datasets and the chunked 3-D "data" dataset.
func CreateCube(path string, height, width, nSlices int, bpc uint8) (CubeWriter, error) {
	if height <= 0 || width <= 0 || nSlices <= 0 {
		return nil, errors.Join(ErrCreateCube, errors.New("H, W and S must be > 0"))
	}
	if bpc < 1 || bpc > 16 {
		return nil, errors.Join(ErrCreateCube, errors.New("bpc must be in 1..16"))
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Join(ErrCreateCube, err)
		}
	}

	file, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, errors.Join(ErrCreateCube, err)
	}

	if err := writeScalarInt64(file, "width", int64(width)); err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}
	if err := writeScalarInt64(file, "height", int64(height)); err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}
	if err := writeScalarInt64(file, "nSlices", int64(nSlices)); err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}
	if err := writeScalarInt64(file, "bpc", int64(bpc)); err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}

	wide := bpc > 8
	dtype, err := elementDatatype(wide)
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}

	dims := []uint{uint(height), uint(width), uint(nSlices)}
	dspace, err := hdf5.CreateSimpleDataspace(dims, dims)
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}
	chunk := []uint{minUint(uint(height), tileChunkHint), minUint(uint(width), tileChunkHint), 1}
	if err := plist.SetChunk(chunk); err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}

	dataset, err := file.CreateDatasetWith("data", dtype, dspace, plist)
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrCreateCube, err)
	}

	return &hdf5Cube{file: file, dataset: dataset, height: height, width: width, n: nSlices, bpc: bpc, wide: wide}, nil
}

// tileChunkHint is the T*T*1 chunk shape used for the dataset; actual
// tile size is a runtime parameter, so chunks are capped at a generous
// default and will simply span multiple tiles for small T.
const tileChunkHint = 512

func minUint(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}

func elementDatatype(wide bool) (*hdf5.Datatype, error) {
	if wide {
		return hdf5.NewDatatypeFromType(hdf5.T_NATIVE_UINT16)
	}
	return hdf5.NewDatatypeFromType(hdf5.T_NATIVE_UINT8)
}

func writeScalarInt64(file *hdf5.File, name string, v int64) error {
	dspace, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return err
	}
	defer dspace.Close()

	dtype, err := hdf5.NewDatatypeFromType(hdf5.T_NATIVE_INT64)
	if err != nil {
		return err
	}

	ds, err := file.CreateDataset(name, dtype, dspace)
	if err != nil {
		return err
	}
	defer ds.Close()

	return ds.Write(&v)
}

func readScalarInt64(file *hdf5.File, name string) (int64, error) {
	ds, err := file.OpenDataset(name)
	if err != nil {
		return 0, err
	}
	defer ds.Close()

	var v int64
	if err := ds.Read(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// WriteTile writes the rectangle [rowLo:rowLo+h, colLo:colLo+w, sliceRank]
// with the tile's actual (possibly edge-clipped) shape.
func (c *hdf5Cube) WriteTile(rowLo, colLo int, sliceRank uint32, tile Tile) error {
	if tile.Height <= 0 || tile.Width <= 0 {
		return errors.Join(ErrWriteTile, errors.New("tile has non-positive dimensions"))
	}

	filespace, err := c.dataset.Space()
	if err != nil {
		return errors.Join(ErrWriteTile, err)
	}
	defer filespace.Close()

	offset := []uint{uint(rowLo), uint(colLo), uint(sliceRank)}
	count := []uint{uint(tile.Height), uint(tile.Width), 1}
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return errors.Join(ErrWriteTile, err)
	}

	memspace, err := hdf5.CreateSimpleDataspace(count, count)
	if err != nil {
		return errors.Join(ErrWriteTile, err)
	}
	defer memspace.Close()

	if c.wide {
		if err := c.dataset.WriteSubset(&tile.Pix, memspace, filespace); err != nil {
			return errors.Join(ErrWriteTile, err)
		}
		return nil
	}

	narrow := make([]uint8, len(tile.Pix))
	for i, v := range tile.Pix {
		narrow[i] = uint8(v)
	}
	if err := c.dataset.WriteSubset(&narrow, memspace, filespace); err != nil {
		return errors.Join(ErrWriteTile, err)
	}
	return nil
}

func (c *hdf5Cube) Close() error {
	if err := c.dataset.Close(); err != nil {
		return err
	}
	return c.file.Close()
}

type hdf5CubeReader struct {
	file             *hdf5.File
	dataset          *hdf5.Dataset
	height, width, n int
	bpc              uint8
	wide             bool
}

// OpenCube opens path read-only, exposing H,W,S,bpc and slab reads.
func OpenCube(path string) (CubeReader, error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Join(ErrOpenCube, err)
	}

	width, err := readScalarInt64(file, "width")
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrOpenCube, err)
	}
	height, err := readScalarInt64(file, "height")
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrOpenCube, err)
	}
	nSlices, err := readScalarInt64(file, "nSlices")
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrOpenCube, err)
	}
	bpc, err := readScalarInt64(file, "bpc")
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrOpenCube, err)
	}

	dataset, err := file.OpenDataset("data")
	if err != nil {
		file.Close()
		return nil, errors.Join(ErrOpenCube, err)
	}

	return &hdf5CubeReader{
		file: file, dataset: dataset,
		height: int(height), width: int(width), n: int(nSlices),
		bpc: uint8(bpc), wide: bpc > 8,
	}, nil
}

func (c *hdf5CubeReader) Dims() (height, width, nSlices int, bpc uint8) {
	return c.height, c.width, c.n, c.bpc
}

// ReadSlab reads data[rowLo:rowHi, colLo:colHi, sliceLo:sliceHi].
func (c *hdf5CubeReader) ReadSlab(rowLo, rowHi, colLo, colHi, sliceLo, sliceHi int) (Slab, error) {
	dr, dc, ds := rowHi-rowLo, colHi-colLo, sliceHi-sliceLo
	if dr <= 0 || dc <= 0 || ds <= 0 {
		return Slab{}, errors.Join(ErrReadSlab, errors.New("empty slab bounds"))
	}

	filespace, err := c.dataset.Space()
	if err != nil {
		return Slab{}, errors.Join(ErrReadSlab, err)
	}
	defer filespace.Close()

	offset := []uint{uint(rowLo), uint(colLo), uint(sliceLo)}
	count := []uint{uint(dr), uint(dc), uint(ds)}
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return Slab{}, errors.Join(ErrReadSlab, err)
	}

	memspace, err := hdf5.CreateSimpleDataspace(count, count)
	if err != nil {
		return Slab{}, errors.Join(ErrReadSlab, err)
	}
	defer memspace.Close()

	slab := NewSlab(dr, dc, ds)
	if c.wide {
		if err := c.dataset.ReadSubset(&slab.Data, memspace, filespace); err != nil {
			return Slab{}, errors.Join(ErrReadSlab, err)
		}
		return slab, nil
	}

	narrow := make([]uint8, dr*dc*ds)
	if err := c.dataset.ReadSubset(&narrow, memspace, filespace); err != nil {
		return Slab{}, errors.Join(ErrReadSlab, err)
	}
	for i, v := range narrow {
		slab.Data[i] = uint16(v)
	}
	return slab, nil
}

func (c *hdf5CubeReader) Close() error {
	if err := c.dataset.Close(); err != nil {
		return err
	}
	return c.file.Close()
}
