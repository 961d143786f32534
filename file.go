package hms

import (
	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// RemoteFile is a VFS-backed handle for reading a manifest or side file
// that may live on a local filesystem or an object store, used by the
// batch driver to load an ingest job list without branching on where it
// lives.
type RemoteFile struct {
	URI      string
	filesize uint64
	config   *tiledb.Config
	ctx      *tiledb.Context
	vfs      *tiledb.VFS
	handler  *tiledb.VFSfh
	Stream
}

// OpenRemoteFile opens uri for streamed reading. configURI, if non-empty,
// names a TileDB config carrying the credentials needed for an
// access-constrained object store. inMemory buffers the full file instead
// of streaming it, trading memory for avoiding repeated remote seeks.
func OpenRemoteFile(uri, configURI string, inMemory bool) (*RemoteFile, error) {
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
		return nil, err
	}

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		config.Free()
		return nil, err
	}

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		ctx.Free()
		config.Free()
		return nil, err
	}

	handler, err := vfs.Open(uri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		vfs.Free()
		ctx.Free()
		config.Free()
		return nil, err
	}

	filesize, err := vfs.FileSize(uri)
	if err != nil {
		handler.Close()
		vfs.Free()
		ctx.Free()
		config.Free()
		return nil, err
	}

	stream, err := GenericStream(handler, filesize, inMemory)
	if err != nil {
		handler.Close()
		vfs.Free()
		ctx.Free()
		config.Free()
		return nil, err
	}

	return &RemoteFile{
		URI: uri, filesize: filesize,
		config: config, ctx: ctx, vfs: vfs, handler: handler,
		Stream: stream,
	}, nil
}

// Size returns the file's size in bytes as reported by the backend.
func (f *RemoteFile) Size() uint64 {
	return f.filesize
}

// Close releases the VFS handle, context and config.
func (f *RemoteFile) Close() error {
	if err := f.handler.Close(); err != nil {
		return err
	}
	f.vfs.Free()
	f.ctx.Free()
	f.config.Free()
	return nil
}
