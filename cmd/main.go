package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/alitto/pond"
	"github.com/paulmach/orb/geojson"
	"github.com/urfave/cli/v2"

	hms "github.com/Cytomine-ULiege/Cytomine-HMS"
	"github.com/Cytomine-ULiege/Cytomine-HMS/search"
)

// runIngest drives a single cube ingest from CLI flags.
func runIngest(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	hms.RetryBackoff = cfg.MetadataRetryBackoff

	store, err := hms.OpenJSONMetadataStore(cCtx.String("store"))
	if err != nil {
		return err
	}

	source := hms.NewHTTPTileSource(nil)

	cubePath := cCtx.String("cube-path")
	if cubePath == "" {
		cubePath = filepath.Join(cfg.CubeRoot, cCtx.String("image-id")+".h5")
	}

	log.Println("Starting ingest for image:", cCtx.String("image-id"))
	err = hms.Ingest(store, source, cubePath,
		cCtx.String("uploaded-file-id"), cCtx.String("image-id"), cCtx.String("companion-file-id"),
		cfg.IngestConfig(cCtx.Bool("resume")))
	if err != nil {
		log.Println("Ingest finished with error:", err)
		return err
	}
	log.Println("Ingest finished:", cubePath)
	return nil
}

// runIngestBatch trawls a storage URI for existing *.h5 cubes (logging
// only how many it finds), then ingests every job named by --manifest or
// --image-id through a bounded worker pool.
func runIngestBatch(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	hms.RetryBackoff = cfg.MetadataRetryBackoff

	uri := cCtx.String("uri")
	configURI := cCtx.String("tiledb-config-uri")

	log.Println("Searching uri:", uri)
	cubes, err := search.FindCubes(uri, configURI)
	if err != nil {
		return err
	}
	log.Println("Existing cubes found:", len(cubes))

	storePath := cCtx.String("store")
	store, err := hms.OpenJSONMetadataStore(storePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n := cfg.BatchWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))

	jobs, err := batchJobs(cCtx, configURI)
	if err != nil {
		pool.StopAndWait()
		return err
	}
	if len(jobs) == 0 {
		pool.StopAndWait()
		return fmt.Errorf("no jobs to ingest: pass --manifest or one or more --image-id")
	}
	log.Println("Jobs to ingest:", len(jobs))

	var resultsMu sync.Mutex
	results := make([]batchResult, 0, len(jobs))

	source := hms.NewHTTPTileSource(nil)
	for _, job := range jobs {
		job := job
		pool.Submit(func() {
			cubePath := job.CubePath
			if cubePath == "" {
				cubePath = filepath.Join(cfg.CubeRoot, job.ImageID+".h5")
			}
			err := hms.Ingest(store, source, cubePath, job.UploadedFileID, job.ImageID, job.CompanionFileID, cfg.IngestConfig(true))
			if err != nil {
				log.Println("ingest failed for", job.ImageID, ":", err)
			}

			res := batchResult{ImageID: job.ImageID, CubePath: cubePath}
			if err != nil {
				res.Error = err.Error()
			}
			resultsMu.Lock()
			results = append(results, res)
			resultsMu.Unlock()
		})
	}

	pool.StopAndWait()

	if reportURI := cCtx.String("report"); reportURI != "" {
		if _, err := hms.WriteJSON(reportURI, configURI, results); err != nil {
			return err
		}
	}

	return nil
}

// batchResult records the outcome of one ingest job run as part of a
// batch, written to the --report file once the worker pool drains.
type batchResult struct {
	ImageID  string `json:"image_id"`
	CubePath string `json:"cube_path"`
	Error    string `json:"error,omitempty"`
}

// batchJob names one ingest to run as part of a batch.
type batchJob struct {
	UploadedFileID  string `json:"uploaded_file_id"`
	ImageID         string `json:"image_id"`
	CompanionFileID string `json:"companion_file_id"`
	CubePath        string `json:"cube_path"`
}

// batchJobs assembles the job list for ingest-batch: a --manifest file,
// read through the VFS-backed RemoteFile so it can live on the same
// object store as the cubes being trawled, takes precedence; repeated
// --image-id flags are a convenience fallback that synthesizes
// placeholder uploaded-file/companion-file ids for local smoke testing.
func batchJobs(cCtx *cli.Context, configURI string) ([]batchJob, error) {
	manifestURI := cCtx.String("manifest")
	if manifestURI == "" {
		var jobs []batchJob
		for _, imageID := range cCtx.StringSlice("image-id") {
			jobs = append(jobs, batchJob{
				UploadedFileID:  imageID + "-upload",
				ImageID:         imageID,
				CompanionFileID: imageID + "-companion",
			})
		}
		return jobs, nil
	}

	manifest, err := hms.OpenRemoteFile(manifestURI, configURI, true)
	if err != nil {
		return nil, err
	}
	defer manifest.Close()

	raw, err := io.ReadAll(manifest)
	if err != nil {
		return nil, err
	}

	var jobs []batchJob
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// runProfile answers a single profile query against an already-ingested
// cube and prints the result as JSON.
func runProfile(cCtx *cli.Context) error {
	reader, err := hms.OpenCube(cCtx.String("cube-path"))
	if err != nil {
		return err
	}
	defer reader.Close()

	raw, err := os.ReadFile(cCtx.String("geometry-file"))
	if err != nil {
		return err
	}
	feature, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return err
	}
	g := feature.Geometry()

	sLo := cCtx.Int("slice-lo")
	sHi := cCtx.Int("slice-hi")

	var out any
	switch cCtx.String("query") {
	case "raw_profile":
		single, many, err := hms.RawProfile(reader, g, sLo, sHi)
		if isEmptyResult(err) {
			out = []hms.RawProfilePoint{}
		} else if err != nil {
			return err
		} else if single != nil {
			out = single
		} else {
			out = many
		}
	case "per_point_stats":
		out, err = hms.PerPointStats(reader, g, sLo, sHi)
		if isEmptyResult(err) {
			out = []hms.PointStats{}
		} else if err != nil {
			return err
		}
	case "projection_values":
		out, err = hms.ProjectionValuesQuery(reader, g, sLo, sHi, reductionFromString(cCtx.String("reduction")))
		if isEmptyResult(err) {
			out = hms.ProjectionValues{}
		} else if err != nil {
			return err
		}
	case "projection_image":
		img, err := hms.ProjectionImageQuery(reader, g, sLo, sHi, reductionFromString(cCtx.String("reduction")), cCtx.String("format"))
		if isEmptyResult(err) {
			return nil // geometry outside the image bounds: no image to write
		}
		if err != nil {
			return err
		}
		return os.WriteFile(cCtx.String("out"), img.Bytes, 0o644)
	default:
		return fmt.Errorf("unknown query: %s", cCtx.String("query"))
	}

	js, err := hms.JSONIndentDumps(out)
	if err != nil {
		return err
	}
	fmt.Println(js)
	return nil
}

// isEmptyResult reports whether err reflects a geometry that clipped to
// nothing or masked no cell inside the image bounds — a query boundary
// condition, not a failure, so it must surface as an empty result rather
// than an error.
func isEmptyResult(err error) bool {
	return errors.Is(err, hms.ErrEmptyGeometry) || errors.Is(err, hms.ErrEmptyMask)
}

func reductionFromString(s string) hms.Reduction {
	switch s {
	case "min":
		return hms.ReduceMin
	case "max":
		return hms.ReduceMax
	default:
		return hms.ReduceMean
	}
}

// runListCubes trawls a storage URI for cube files and prints their URIs.
func runListCubes(cCtx *cli.Context) error {
	cubes, err := search.FindCubes(cCtx.String("uri"), cCtx.String("tiledb-config-uri"))
	if err != nil {
		return err
	}
	for _, c := range cubes {
		fmt.Println(c)
	}
	return nil
}

func loadConfig(cCtx *cli.Context) (hms.Config, error) {
	path := cCtx.String("config")
	if path == "" {
		return hms.DefaultConfig(), nil
	}
	return hms.LoadConfig(path)
}

func main() {
	app := &cli.App{
		Name:  "cytomine-hms",
		Usage: "ingest hyperspectral images into queryable cube files and answer spectral profile queries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file overriding the defaults"},
		},
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "materialise one uploaded image into a cube",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "store", Usage: "path to the JSON metadata store", Required: true},
					&cli.StringFlag{Name: "uploaded-file-id", Required: true},
					&cli.StringFlag{Name: "image-id", Required: true},
					&cli.StringFlag{Name: "companion-file-id", Required: true},
					&cli.StringFlag{Name: "cube-path", Usage: "destination cube path; defaults under config's cube_root"},
					&cli.BoolFlag{Name: "resume", Usage: "skip tiles already recorded in the cube's ingest ledger"},
				},
				Action: runIngest,
			},
			{
				Name:  "ingest-batch",
				Usage: "trawl a storage URI and ingest a list of images through a bounded worker pool",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uri", Usage: "storage URI to trawl for existing cubes", Required: true},
					&cli.StringFlag{Name: "tiledb-config-uri", Usage: "TileDB config file for accessing the storage backend"},
					&cli.StringFlag{Name: "store", Usage: "path to the JSON metadata store", Required: true},
					&cli.StringFlag{Name: "manifest", Usage: "URI of a JSON array of {uploaded_file_id,image_id,companion_file_id,cube_path} jobs; takes precedence over --image-id"},
					&cli.StringSliceFlag{Name: "image-id", Usage: "image id to ingest; may be repeated; ignored when --manifest is set"},
					&cli.StringFlag{Name: "report", Usage: "URI to write a JSON summary of per-job outcomes once the batch drains"},
				},
				Action: runIngestBatch,
			},
			{
				Name:  "profile",
				Usage: "answer a profile query against a cube",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "cube-path", Required: true},
					&cli.StringFlag{Name: "geometry-file", Usage: "path to a GeoJSON geometry", Required: true},
					&cli.StringFlag{Name: "query", Usage: "raw_profile|per_point_stats|projection_values|projection_image", Required: true},
					&cli.IntFlag{Name: "slice-lo", Value: 0},
					&cli.IntFlag{Name: "slice-hi", Value: 0},
					&cli.StringFlag{Name: "reduction", Value: "mean", Usage: "min|max|mean"},
					&cli.StringFlag{Name: "format", Value: "png", Usage: "png|jpg, for projection_image"},
					&cli.StringFlag{Name: "out", Usage: "output path, for projection_image"},
				},
				Action: runProfile,
			},
			{
				Name:  "list-cubes",
				Usage: "trawl a storage URI for *.h5 cube files",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uri", Required: true},
					&cli.StringFlag{Name: "tiledb-config-uri"},
				},
				Action: runListCubes,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
