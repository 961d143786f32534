package hms

import (
	"encoding/json"
	"errors"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// WriteJSON serialises data as indented JSON to fileURI through the TileDB
// VFS, so the destination can be a local path or an object store such as
// S3 without the caller branching on scheme. Used by the batch driver to
// write its --report summary of per-job outcomes.
func WriteJSON(fileURI, configURI string, data any) (int, error) {
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
		return 0, errors.Join(errors.New("WriteJSON: loading tiledb config"), err)
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return 0, errors.Join(errors.New("WriteJSON: creating tiledb context"), err)
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return 0, errors.Join(errors.New("WriteJSON: creating tiledb vfs"), err)
	}
	defer vfs.Free()

	// the vfs api auto checks for a file's existence and removes it if we
	// are wanting to write
	stream, err := vfs.Open(fileURI, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return 0, errors.Join(errors.New("WriteJSON: opening destination"), err)
	}
	defer stream.Close()

	jsn, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return 0, err
	}

	written, err := stream.Write(jsn)
	if err != nil {
		return 0, err
	}

	return written, nil
}

// JSONDumps constructs a compact JSON string of data.
func JSONDumps(data any) (string, error) {
	jsn, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}

// JSONIndentDumps constructs a JSON string of data indented with four
// spaces, used for human-facing CLI output.
func JSONIndentDumps(data any) (string, error) {
	jsn, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return "", err
	}
	return string(jsn), nil
}
