// Package search trawls a (possibly remote) storage backend for cube
// files, using the TileDB Go bindings' VFS so the same code walks a local
// filesystem or an object store such as AWS S3 without a code-path split.
package search

import (
	"errors"
	"path/filepath"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// trawl recursively matches pattern against file basenames under uri,
// appending matches to items. Adapted from the GSF reader's *.gsf file
// finder to return an error instead of panicking, so a permission-denied
// or missing-bucket error surfaces to the caller rather than crashing the
// server process.
func trawl(vfs *tiledb.VFS, pattern string, uri string, items []string) ([]string, error) {
	dirs, files, err := vfs.List(uri)
	if err != nil {
		return items, err
	}

	for _, file := range files {
		match, err := filepath.Match(pattern, filepath.Base(file))
		if err != nil {
			return items, err
		}
		if match {
			items = append(items, file)
		}
	}

	for _, dir := range dirs {
		items, err = trawl(vfs, pattern, dir, items)
		if err != nil {
			return items, err
		}
	}

	return items, nil
}

// FindCubes recursively searches for *.h5 cube files under uri. configURI,
// if non-empty, names a TileDB config file carrying the credentials
// needed to search an object store under access constraints; an empty
// configURI uses a generic (anonymous/local) config.
func FindCubes(uri, configURI string) ([]string, error) {
	var (
		config *tiledb.Config
		err    error
	)

	if configURI == "" {
		config, err = tiledb.NewConfig()
	} else {
		config, err = tiledb.LoadConfig(configURI)
	}
	if err != nil {
		return nil, errors.Join(errors.New("trawl: loading tiledb config"), err)
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return nil, errors.Join(errors.New("trawl: creating tiledb context"), err)
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return nil, errors.Join(errors.New("trawl: creating tiledb vfs"), err)
	}
	defer vfs.Free()

	return trawl(vfs, "*.h5", uri, make([]string, 0))
}
