package hms

import (
	"bytes"
	"encoding/binary"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// Stream is a generic reader type so callers can handle a stream of data
// from a file on disk, an object store, or an in-memory byte buffer
// uniformly. This package only needs Read and Seek, which both
// *tiledb.VFSfh and *bytes.Reader implement.
type Stream interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}

// GenericStream either wraps stream directly or, when inMem is true,
// drains it into an in-memory buffer first; used by the batch driver
// when reading a manifest from a backend whose Seek is expensive (e.g.
// object storage) compared to buffering it once.
func GenericStream(stream *tiledb.VFSfh, size uint64, inMem bool) (Stream, error) {
	if !inMem {
		return stream, nil
	}
	buffer := make([]byte, size)
	if err := binary.Read(stream, binary.BigEndian, &buffer); err != nil {
		return nil, err
	}
	return bytes.NewReader(buffer), nil
}
