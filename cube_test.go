package hms

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCubeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.h5")

	writer, err := CreateCube(path, 4, 4, 2, 8)
	require.NoError(t, err)

	tile := Tile{Width: 4, Height: 4, Pix: make([]uint16, 16)}
	for i := range tile.Pix {
		tile.Pix[i] = uint16(i)
	}
	require.NoError(t, writer.WriteTile(0, 0, 0, tile))
	require.NoError(t, writer.Close())

	reader, err := OpenCube(path)
	require.NoError(t, err)
	defer reader.Close()

	height, width, nSlices, bpc := reader.Dims()
	assert.Equal(t, 4, height)
	assert.Equal(t, 4, width)
	assert.Equal(t, 2, nSlices)
	assert.Equal(t, uint8(8), bpc)

	slab, err := reader.ReadSlab(0, 4, 0, 4, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), slab.At(1, 1, 0))
}

func TestCreateCubeRejectsBadDims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.h5")
	_, err := CreateCube(path, 0, 4, 2, 8)
	assert.ErrorIs(t, err, ErrCreateCube)
}

func TestWriteTileNarrowsToUint8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrow.h5")
	writer, err := CreateCube(path, 2, 2, 1, 8)
	require.NoError(t, err)
	defer writer.Close()

	tile := Tile{Width: 2, Height: 2, Pix: []uint16{300, 1, 2, 3}}
	require.NoError(t, writer.WriteTile(0, 0, 0, tile))
}
