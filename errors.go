package hms

import (
	"errors"
	"fmt"
)

// Sentinel errors, in the style of the corpus this module is built from:
// one exported Err value per failure kind, joined at the call site with
// whatever context is available via errors.Join.
var (
	ErrNotHyperspectral = errors.New("image has channels=depth=duration=1; cannot build a profile cube")
	ErrEmptyGeometry    = errors.New("geometry is empty after clipping to the image bounds")
	ErrEmptyMask        = errors.New("mask has no true cell")
	ErrBadRequest       = errors.New("missing or malformed required parameter")
	ErrCubeIO           = errors.New("cube I/O error")
	ErrCreateCube       = errors.New("error creating cube dataset")
	ErrOpenCube         = errors.New("error opening cube dataset")
	ErrWriteTile        = errors.New("error writing tile into cube")
	ErrReadSlab         = errors.New("error reading slab from cube")
	ErrTileFetch        = errors.New("error fetching tile from tile source")
	ErrCreateLedger     = errors.New("error creating ingest ledger")
	ErrLedgerIO         = errors.New("ingest ledger I/O error")
	ErrMetadataUpdate   = errors.New("metadata store update failed")
	ErrDims             = errors.New("error dims is > 2")
	ErrDtype            = errors.New("error slice datatype is unexpected")
	ErrSetBuff          = errors.New("error setting tiledb buffer")
)

// SpecError wraps an error encountered while servicing a single TileSpec,
// so callers can recover the offending spec with errors.As instead of
// parsing a message string. Raised on the reader side (wrapping
// ErrTileFetch) and the writer side (wrapping ErrWriteTile) of the
// ingest scheduler.
type SpecError struct {
	Spec  TileSpec
	Cause error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("tile (x=%d,y=%d,slice=%d): %v", e.Spec.X, e.Spec.Y, e.Spec.Slice.Rank, e.Cause)
}

func (e *SpecError) Unwrap() error {
	return e.Cause
}
