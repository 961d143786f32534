package hms

import (
	"errors"
	"sync"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// Ledger records which tile specs have been durably written to a cube,
// so an interrupted ingest can resume without re-fetching and
// re-writing tiles already placed.
type Ledger interface {
	Has(x, y int, sliceRank uint32) bool
	Mark(x, y int, sliceRank uint32) error
	Close() error
}

// tiledbLedger is a TileDB sparse array keyed by the three int32
// dimensions (x, y, sliceRank) with a single uint8 attribute "written".
type tiledbLedger struct {
	ctx   *tiledb.Context
	uri   string
	mu    sync.Mutex
	cache map[ledgerKey]bool
}

type ledgerKey struct {
	x, y int
	rank uint32
}

// OpenLedger opens (creating if absent) the sparse ledger array sibling
// to a cube at cubePath, named "<cube-path>.ledger". compression selects
// the codec for the "written" attribute ("zstd", "gzip" or "lz4"); an
// empty string defaults to "zstd". The choice only applies at creation
// time — reopening an existing ledger keeps whatever codec it was built
// with.
func OpenLedger(cubePath, compression string) (Ledger, error) {
	uri := cubePath + ".ledger"
	if compression == "" {
		compression = "zstd"
	}

	config, err := tiledb.NewConfig()
	if err != nil {
		return nil, errors.Join(ErrCreateLedger, err)
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return nil, errors.Join(ErrCreateLedger, err)
	}

	l := &tiledbLedger{ctx: ctx, uri: uri, cache: make(map[ledgerKey]bool)}

	if err := l.ensureSchema(compression); err != nil {
		ctx.Free()
		return nil, err
	}

	if err := l.loadExisting(); err != nil {
		ctx.Free()
		return nil, err
	}

	return l, nil
}

// ledgerFilter builds the compression filter named by compression.
func ledgerFilter(ctx *tiledb.Context, compression string) (*tiledb.Filter, error) {
	switch compression {
	case "gzip":
		return GzipFilter(ctx, 6)
	case "lz4":
		return Lz4Filter(ctx, 0)
	default:
		return ZstdFilter(ctx, 16)
	}
}

func (l *tiledbLedger) ensureSchema(compression string) error {
	array, err := ArrayOpen(l.ctx, l.uri, tiledb.TILEDB_READ)
	if err == nil {
		array.Close()
		array.Free()
		return nil // schema already exists
	}

	domain, err := tiledb.NewDomain(l.ctx)
	if err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	defer domain.Free()

	for _, dim := range []string{"x", "y", "sliceRank"} {
		d, err := tiledb.NewDimension(l.ctx, dim, tiledb.TILEDB_INT32, []int32{0, 1 << 20}, int32(1024))
		if err != nil {
			return errors.Join(ErrCreateLedger, err)
		}
		if err := domain.AddDimensions(d); err != nil {
			return errors.Join(ErrCreateLedger, err)
		}
	}

	schema, err := tiledb.NewArraySchema(l.ctx, tiledb.TILEDB_SPARSE)
	if err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	defer schema.Free()

	if err := schema.SetDomain(domain); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	if err := schema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	if err := schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}

	attr, err := tiledb.NewAttribute(l.ctx, "written", tiledb.TILEDB_UINT8)
	if err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	defer attr.Free()

	filterList, err := tiledb.NewFilterList(l.ctx)
	if err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	defer filterList.Free()
	filt, err := ledgerFilter(l.ctx, compression)
	if err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	defer filt.Free()
	if err := AddFilters(filterList, filt); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}
	if err := AttachFilters(filterList, attr); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}

	if err := schema.AddAttributes(attr); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}

	if err := tiledb.CreateArray(l.ctx, l.uri, schema); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}

	provenance := map[string]any{
		"compression":    compression,
		"schema_version": 1,
	}
	if err := WriteArrayMetadata(l.ctx, l.uri, "ledger_info", provenance); err != nil {
		return errors.Join(ErrCreateLedger, err)
	}

	return nil
}

// loadExisting drains the full ledger into an in-process cache; ledgers
// are small (one cell per tile spec already written) relative to the
// cube they guard, so this trades a little start-up I/O for in-memory
// Has() checks (a map lookup under the ledger's mutex, no TileDB read)
// during the hot ingest loop.
func (l *tiledbLedger) loadExisting() error {
	array, err := ArrayOpen(l.ctx, l.uri, tiledb.TILEDB_READ)
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	defer array.Free()
	defer array.Close()

	nonEmpty, isEmpty, err := array.NonEmptyDomain()
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if isEmpty || nonEmpty == nil {
		return nil // fresh ledger, nothing written yet
	}

	subarray, err := array.NewSubarray()
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	defer subarray.Free()

	for i, dom := range nonEmpty {
		bounds, ok := dom.Bounds.([2]int32)
		if !ok {
			continue
		}
		if err := subarray.AddRange(uint32(i), tiledb.MakeRange(bounds[0], bounds[1])); err != nil {
			return errors.Join(ErrLedgerIO, err)
		}
	}

	query, err := tiledb.NewQuery(l.ctx, array)
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	defer query.Free()

	if err := query.SetSubarray(subarray); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if err := query.SetLayout(tiledb.TILEDB_UNORDERED); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	maxElements, err := array.MaxBufferElements(subarray)
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	xs := make([]int32, maxElements["x"][1])
	ys := make([]int32, maxElements["y"][1])
	ranks := make([]int32, maxElements["sliceRank"][1])
	written := make([]uint8, maxElements["written"][1])

	if _, err := query.SetDataBuffer("x", xs); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if _, err := query.SetDataBuffer("y", ys); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if _, err := query.SetDataBuffer("sliceRank", ranks); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if _, err := query.SetDataBuffer("written", written); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	if err := query.Submit(); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	elements, err := query.ResultBufferElements()
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	n := elements["x"][1]

	for i := uint64(0); i < n; i++ {
		if written[i] == 0 {
			continue
		}
		l.cache[ledgerKey{x: int(xs[i]), y: int(ys[i]), rank: uint32(ranks[i])}] = true
	}

	return nil
}

func (l *tiledbLedger) Has(x, y int, sliceRank uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache[ledgerKey{x, y, sliceRank}]
}

func (l *tiledbLedger) Mark(x, y int, sliceRank uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{x, y, sliceRank}
	if l.cache[key] {
		return nil
	}

	array, err := ArrayOpen(l.ctx, l.uri, tiledb.TILEDB_WRITE)
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(l.ctx, array)
	if err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_UNORDERED); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	xs := []int32{int32(x)}
	ys := []int32{int32(y)}
	ranks := []int32{int32(sliceRank)}
	written := []uint8{1}

	if _, err := query.SetDataBuffer("x", xs); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if _, err := query.SetDataBuffer("y", ys); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if _, err := query.SetDataBuffer("sliceRank", ranks); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}
	if _, err := query.SetDataBuffer("written", written); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	if err := query.Submit(); err != nil {
		return errors.Join(ErrLedgerIO, err)
	}

	l.cache[key] = true
	return nil
}

func (l *tiledbLedger) Close() error {
	l.ctx.Free()
	return nil
}

// NopLedger is a Ledger that remembers nothing and marks nothing,
// used when ingest resumability is not wanted (or not available, e.g.
// in tests that do not want a TileDB array on disk).
type NopLedger struct{}

func (NopLedger) Has(x, y int, sliceRank uint32) bool { return false }
func (NopLedger) Mark(x, y int, sliceRank uint32) error { return nil }
func (NopLedger) Close() error                          { return nil }
