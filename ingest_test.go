package hms

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMetadataStore is an in-memory MetadataStore for exercising the
// ingest scheduler (C4) without a real Cytomine backend.
type fakeMetadataStore struct {
	mu       sync.Mutex
	uf       UploadedFile
	cf       CompanionFile
	image    AbstractImage
	slices   []SliceDescriptor
	failUpd  bool
	progress []int
}

func (s *fakeMetadataStore) FetchUploadedFile(id string) (UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uf, nil
}

func (s *fakeMetadataStore) UpdateUploadedFile(uf UploadedFile) (UploadedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uf = uf
	return uf, !s.failUpd
}

func (s *fakeMetadataStore) FetchCompanionFile(id string) (CompanionFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cf, nil
}

func (s *fakeMetadataStore) UpdateCompanionFile(cf CompanionFile) (CompanionFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cf = cf
	s.progress = append(s.progress, cf.Progress)
	return cf, true
}

func (s *fakeMetadataStore) FetchImage(imageID string) (AbstractImage, error) {
	return s.image, nil
}

func (s *fakeMetadataStore) FetchSlices(imageID string) ([]SliceDescriptor, error) {
	return s.slices, nil
}

// fakeTileSource returns a constant-valued tile sized exactly to the
// spec's region, optionally failing on a chosen slice rank.
type fakeTileSource struct {
	failOnRank uint32
	hasFail    bool
}

func (s *fakeTileSource) Fetch(spec TileSpec, plan TilingPlan, bpc uint8) (Tile, error) {
	if s.hasFail && spec.Slice.Rank == s.failOnRank {
		return Tile{}, errors.New("simulated fetch failure")
	}
	left, top, w, h := plan.Region(spec.X, spec.Y)
	_ = left
	_ = top
	pix := make([]uint16, w*h)
	for i := range pix {
		pix[i] = uint16(spec.Slice.Rank + 1)
	}
	return Tile{Width: w, Height: h, Pix: pix}, nil
}

// fakeCubeWriter records every WriteTile call's target rectangle so tests
// can assert disjointness and completeness without touching HDF5.
type fakeCubeWriter struct {
	mu     sync.Mutex
	writes map[[3]int]bool
	closed bool
}

func newFakeCubeWriter() *fakeCubeWriter {
	return &fakeCubeWriter{writes: make(map[[3]int]bool)}
}

func (w *fakeCubeWriter) WriteTile(rowLo, colLo int, sliceRank uint32, tile Tile) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := [3]int{rowLo, colLo, int(sliceRank)}
	if w.writes[key] {
		return errors.New("duplicate write to same rectangle")
	}
	w.writes[key] = true
	return nil
}

func (w *fakeCubeWriter) Close() error {
	w.closed = true
	return nil
}

func tinyImage() (AbstractImage, []SliceDescriptor) {
	img := AbstractImage{ID: "img1", Width: 8, Height: 8, Channels: 3, OriginalFilename: "x.tif"}
	slices := []SliceDescriptor{
		{Rank: 0, Channel: 0, TileSourceURL: "http://x", Path: "x.tif"},
		{Rank: 1, Channel: 1, TileSourceURL: "http://x", Path: "x.tif"},
		{Rank: 2, Channel: 2, TileSourceURL: "http://x", Path: "x.tif"},
	}
	return img, slices
}

func TestRunPipelineWritesEveryDisjointTile(t *testing.T) {
	img, slices := tinyImage()
	plan := NewTilingPlan(int(img.Width), int(img.Height), 4)
	cube := newFakeCubeWriter()
	ictx := &IngestContext{Plan: plan, Bpc: 8, Cube: cube, Ledger: NopLedger{}, Source: &fakeTileSource{}}

	cfg := DefaultIngestConfig()
	cfg.ReaderWorkers = 2
	total := plan.XTiles * plan.YTiles * len(slices)

	var progressed []int
	err := runPipeline(ictx, slices, total, cfg, func(p int) { progressed = append(progressed, p) })
	require.NoError(t, err)
	assert.Equal(t, total, len(cube.writes))
}

func TestRunPipelineStopsOnFirstError(t *testing.T) {
	img, slices := tinyImage()
	plan := NewTilingPlan(int(img.Width), int(img.Height), 4)
	cube := newFakeCubeWriter()
	ictx := &IngestContext{Plan: plan, Bpc: 8, Cube: cube, Ledger: NopLedger{}, Source: &fakeTileSource{failOnRank: 1, hasFail: true}}

	cfg := DefaultIngestConfig()
	cfg.ReaderWorkers = 2
	total := plan.XTiles * plan.YTiles * len(slices)

	err := runPipeline(ictx, slices, total, cfg, func(int) {})
	require.Error(t, err)
	var specErr *SpecError
	assert.ErrorAs(t, err, &specErr)
	// fewer than total tiles were written since the pipeline cancelled early
	assert.Less(t, len(cube.writes), total)
}

func TestRunPipelineSkipsLedgerMarkedTiles(t *testing.T) {
	img, slices := tinyImage()
	plan := NewTilingPlan(int(img.Width), int(img.Height), 4)
	cube := newFakeCubeWriter()

	ledger := &recordingLedger{marked: map[[3]int]bool{{0, 0, 0}: true}}
	ictx := &IngestContext{Plan: plan, Bpc: 8, Cube: cube, Ledger: ledger, Source: &fakeTileSource{}}

	cfg := DefaultIngestConfig()
	total := plan.XTiles*plan.YTiles*len(slices) - 1 // one already marked

	err := runPipeline(ictx, slices, total+1, cfg, func(int) {})
	require.NoError(t, err)
	assert.Equal(t, total, len(cube.writes))
}

// recordingLedger is a minimal in-memory Ledger fake for tests.
type recordingLedger struct {
	mu     sync.Mutex
	marked map[[3]int]bool
}

func (l *recordingLedger) Has(x, y int, sliceRank uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marked[[3]int{x, y, int(sliceRank)}]
}

func (l *recordingLedger) Mark(x, y int, sliceRank uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.marked == nil {
		l.marked = make(map[[3]int]bool)
	}
	l.marked[[3]int{x, y, int(sliceRank)}] = true
	return nil
}

func (l *recordingLedger) Close() error { return nil }

func TestIngestRejectsNonHyperspectralImage(t *testing.T) {
	store := &fakeMetadataStore{
		uf:    UploadedFile{ID: "uf1", Status: StatusUploaded},
		cf:    CompanionFile{ID: "cf1"},
		image: AbstractImage{ID: "img1", Width: 4, Height: 4, Channels: 1, Depth: 1, Duration: 1},
	}
	RetryBackoff = 0

	err := Ingest(store, &fakeTileSource{}, t.TempDir()+"/cube.h5", "uf1", "img1", "cf1", DefaultIngestConfig())
	assert.ErrorIs(t, err, ErrNotHyperspectral)
	assert.Equal(t, StatusErrorConversion, store.uf.Status)
}
