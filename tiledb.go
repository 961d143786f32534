package hms

import (
	"errors"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

var ErrAddFilters = errors.New("error adding filter to filter list")

// ArrayOpen is a helper for opening a TileDB array in a given mode.
func ArrayOpen(ctx *tiledb.Context, uri string, mode tiledb.QueryType) (*tiledb.Array, error) {
	array, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return nil, err
	}

	if err := array.Open(mode); err != nil {
		array.Free()
		return nil, err
	}

	return array, nil
}

// AddFilters sequentially appends compression filters to a filter pipeline.
func AddFilters(filterList *tiledb.FilterList, filters ...*tiledb.Filter) error {
	for _, filt := range filters {
		if err := filterList.AddFilter(filt); err != nil {
			return errors.Join(ErrAddFilters, err)
		}
	}
	return nil
}

// ZstdFilter initialises the Zstandard compression filter at the given
// compression level.
func ZstdFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_ZSTD)
	if err != nil {
		return nil, err
	}
	if err := filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level); err != nil {
		filt.Free()
		return nil, err
	}
	return filt, nil
}

// GzipFilter initialises the deflate compression filter.
func GzipFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_GZIP)
	if err != nil {
		return nil, err
	}
	if err := filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level); err != nil {
		filt.Free()
		return nil, err
	}
	return filt, nil
}

// Lz4Filter initialises the LZ4 compression filter.
func Lz4Filter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_LZ4)
	if err != nil {
		return nil, err
	}
	if err := filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level); err != nil {
		filt.Free()
		return nil, err
	}
	return filt, nil
}

// AttachFilters attaches the same filter pipeline to a set of attributes.
func AttachFilters(filterList *tiledb.FilterList, attrs ...*tiledb.Attribute) error {
	for _, attr := range attrs {
		if err := attr.SetFilterList(filterList); err != nil {
			return err
		}
	}
	return nil
}

// WriteArrayMetadata JSON-encodes md and attaches it under key to the
// TileDB array at arrayURI's metadata store.
func WriteArrayMetadata(ctx *tiledb.Context, arrayURI, key string, md any) error {
	array, err := ArrayOpen(ctx, arrayURI, tiledb.TILEDB_WRITE)
	if err != nil {
		return errors.Join(errors.New("opening (w) tiledb array: "+arrayURI), err)
	}
	defer array.Free()
	defer array.Close()

	jsn, err := JSONDumps(md)
	if err != nil {
		return errors.Join(errors.New("serialising metadata to json"), err)
	}

	if err := array.PutMetadata(key, jsn); err != nil {
		return errors.Join(errors.New("writing metadata to array: "+arrayURI), err)
	}

	return nil
}
