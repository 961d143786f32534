package hms

import (
	"context"
	"errors"
	"math"
	"os"
	"runtime"
	"sync"
)

// IngestConfig carries the tunable parameters of the ingest scheduler:
// tile geometry, reader/writer concurrency, progress reporting cadence,
// and metadata-update retry budget.
type IngestConfig struct {
	TileSize             int // T
	ReaderWorkers         int // N; 0 -> max(1, NumCPU-1)
	WriteQueueCapacity    int // C_w
	ProgressUpdatePeriod  int // U
	MetadataRetries       int
	Resume                bool
	LedgerCompression     string // zstd|gzip|lz4; defaults to zstd when empty
}

// DefaultIngestConfig returns the recommended tile size (512), progress
// reporting period (every 50 tiles) and write queue capacity (512).
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		TileSize:             512,
		ReaderWorkers:         0,
		WriteQueueCapacity:    512,
		ProgressUpdatePeriod:  50,
		MetadataRetries:       DefaultMetadataRetries,
		LedgerCompression:     "zstd",
	}
}

func (c IngestConfig) readerWorkers() int {
	if c.ReaderWorkers > 0 {
		return c.ReaderWorkers
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// IngestContext is the explicit state the scheduler's goroutines share:
// readers borrow it immutably, the writer borrows it mutably via its own
// exclusive cube handle.
type IngestContext struct {
	Plan    TilingPlan
	Bpc     uint8
	Cube    CubeWriter
	Ledger  Ledger
	Source  TileSource
}

type writeItem struct {
	spec TileSpec
	tile Tile
}

// Ingest fetches the image/slice metadata, creates the cube, runs N
// reader goroutines feeding one writer goroutine over a bounded channel,
// reports progress, and finalises both metadata records. Returns the
// first error encountered (nil on success). A failure fetching the
// records, the image or its slices is returned before any record is
// changed; past that point the uploaded file's terminal status is set
// regardless of the returned error.
func Ingest(store MetadataStore, source TileSource, cubePath, uploadedFileID, imageID, companionFileID string, cfg IngestConfig) error {
	uf, err := store.FetchUploadedFile(uploadedFileID)
	if err != nil {
		return err
	}
	image, err := store.FetchImage(imageID)
	if err != nil {
		return err
	}
	slices, err := store.FetchSlices(imageID)
	if err != nil {
		return err
	}
	cf, err := store.FetchCompanionFile(companionFileID)
	if err != nil {
		return err
	}

	descriptor := image.Descriptor()
	if descriptor.Dimension() == DimNone {
		uf.Status = StatusErrorConversion
		RetryUpdateUploadedFile(store.UpdateUploadedFile, uf, cfg.MetadataRetries)
		return ErrNotHyperspectral
	}

	bpc := descriptor.Bpc()
	plan := NewTilingPlan(int(image.Width), int(image.Height), cfg.TileSize)
	total := plan.XTiles * plan.YTiles * len(slices)

	cube, err := CreateCube(cubePath, int(image.Height), int(image.Width), len(slices), bpc)
	if err != nil {
		uf.Status = StatusErrorConversion
		RetryUpdateUploadedFile(store.UpdateUploadedFile, uf, cfg.MetadataRetries)
		return err
	}

	uf.Status = StatusConverting
	uf = RetryUpdateUploadedFile(store.UpdateUploadedFile, uf, cfg.MetadataRetries)
	cf = RetryUpdateCompanionFile(store.UpdateCompanionFile, cf, cfg.MetadataRetries)

	var ledger Ledger = NopLedger{}
	if cfg.Resume {
		ledger, err = OpenLedger(cubePath, cfg.LedgerCompression)
		if err != nil {
			cube.Close()
			uf.Status = StatusErrorConversion
			RetryUpdateUploadedFile(store.UpdateUploadedFile, uf, cfg.MetadataRetries)
			return err
		}
	}

	ictx := &IngestContext{Plan: plan, Bpc: bpc, Cube: cube, Ledger: ledger, Source: source}

	runErr := runPipeline(ictx, slices, total, cfg, func(progress int) {
		cf.Progress = progress
		cf = RetryUpdateCompanionFile(store.UpdateCompanionFile, cf, cfg.MetadataRetries)
	})

	ledger.Close()
	cube.Close()

	// Re-read both records, since their status may have changed
	// externally while ingest ran.
	uf, _ = store.FetchUploadedFile(uploadedFileID)
	cf, _ = store.FetchCompanionFile(companionFileID)

	if runErr != nil {
		uf.Status = StatusErrorConversion
	} else if uf.Status == StatusConverting {
		uf.Status = StatusConverted
	}

	if info, statErr := os.Stat(cubePath); statErr == nil {
		uf.Size = info.Size()
	}

	RetryUpdateUploadedFile(store.UpdateUploadedFile, uf, cfg.MetadataRetries)
	RetryUpdateCompanionFile(store.UpdateCompanionFile, cf, cfg.MetadataRetries)

	return runErr
}

// runPipeline runs the N-reader/1-writer bounded pipeline over the
// enumerated work-set and returns the first error observed by any
// worker, or nil.
func runPipeline(ictx *IngestContext, slices []SliceDescriptor, total int, cfg IngestConfig, onProgress func(int)) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var errOnce sync.Once
	var firstErr error
	recordErr := func(e error) {
		errOnce.Do(func() {
			firstErr = e
			cancel()
		})
	}

	specCh := make(chan TileSpec, total)
	skipped := 0
	// Enumeration order: for slice in slices: for x in 0..XTiles: for y
	// in 0..YTiles. The ordering carries no correctness contract since
	// every spec targets a disjoint cube region, but is kept fixed and
	// deterministic for reproducible progress reporting.
	for _, slice := range slices {
		for x := 0; x < ictx.Plan.XTiles; x++ {
			for y := 0; y < ictx.Plan.YTiles; y++ {
				if ictx.Ledger.Has(x, y, slice.Rank) {
					skipped++
					continue
				}
				specCh <- TileSpec{X: x, Y: y, Slice: slice}
			}
		}
	}
	close(specCh)

	writeCh := make(chan writeItem, cfg.WriteQueueCapacity)

	var readers sync.WaitGroup
	n := cfg.readerWorkers()
	readers.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer readers.Done()
			readerLoop(ctx, ictx, specCh, writeCh, recordErr)
		}()
	}

	go func() {
		readers.Wait()
		close(writeCh)
	}()

	writerLoop(ctx, ictx, writeCh, total, skipped, cfg.ProgressUpdatePeriod, onProgress, recordErr)

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// readerLoop is one of the N reader workers: dequeue a spec, fetch its
// tile, and hand it to the writer over the bounded channel. The blocking
// channel send on writeCh is the pipeline's backpressure point; the
// ctx.Done() case is the cooperative-cancellation check that lets a
// reader exit promptly once another worker has recorded an error.
func readerLoop(ctx context.Context, ictx *IngestContext, specCh <-chan TileSpec, writeCh chan<- writeItem, recordErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case spec, ok := <-specCh:
			if !ok {
				return
			}
			tile, err := ictx.Source.Fetch(spec, ictx.Plan, ictx.Bpc)
			if err != nil {
				recordErr(&SpecError{Spec: spec, Cause: errors.Join(ErrTileFetch, err)})
				return
			}
			select {
			case writeCh <- writeItem{spec: spec, tile: tile}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writerLoop is the single writer worker: it owns the cube-writer handle
// exclusively and is the only goroutine that calls CubeWriter.WriteTile.
// It drains writeCh until it is closed (every reader has exited) or the
// context is cancelled, so a cube-write failure here cancels the
// remaining readers instead of leaving them blocked on a full channel.
func writerLoop(ctx context.Context, ictx *IngestContext, writeCh <-chan writeItem, total, initialCounter, period int, onProgress func(int), recordErr func(error)) {
	counter := initialCounter
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-writeCh:
			if !ok {
				return
			}

			rowLo := item.spec.Y * ictx.Plan.TileSize
			colLo := item.spec.X * ictx.Plan.TileSize
			if err := ictx.Cube.WriteTile(rowLo, colLo, item.spec.Slice.Rank, item.tile); err != nil {
				recordErr(&SpecError{Spec: item.spec, Cause: errors.Join(ErrWriteTile, err)})
				return
			}
			if err := ictx.Ledger.Mark(item.spec.X, item.spec.Y, item.spec.Slice.Rank); err != nil {
				recordErr(&SpecError{Spec: item.spec, Cause: errors.Join(ErrLedgerIO, err)})
				return
			}

			counter++
			if period > 0 && (counter%period == 0 || counter == total) {
				progress := int(math.Round(100 * float64(counter) / float64(total)))
				onProgress(progress)
			}
		}
	}
}
