package hms

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// jsonStoreDoc is the on-disk shape of a JSONMetadataStore: one record set
// per table, keyed by ID. Used by the CLI when no live Cytomine metadata
// service is reachable, e.g. for local smoke testing of an ingest run.
type jsonStoreDoc struct {
	UploadedFiles  map[string]UploadedFile          `json:"uploaded_files"`
	CompanionFiles map[string]CompanionFile         `json:"companion_files"`
	Images         map[string]AbstractImage         `json:"images"`
	Slices         map[string][]SliceDescriptor     `json:"slices"`
}

// JSONMetadataStore is a MetadataStore backed by a single JSON file on
// disk, guarded by a mutex since ingest's writer goroutine and progress
// callbacks update it concurrently with reads from other requests.
type JSONMetadataStore struct {
	path string
	mu   sync.Mutex
	doc  jsonStoreDoc
}

// OpenJSONMetadataStore loads path, or starts an empty store if it does
// not yet exist.
func OpenJSONMetadataStore(path string) (*JSONMetadataStore, error) {
	store := &JSONMetadataStore{path: path, doc: jsonStoreDoc{
		UploadedFiles:  map[string]UploadedFile{},
		CompanionFiles: map[string]CompanionFile{},
		Images:         map[string]AbstractImage{},
		Slices:         map[string][]SliceDescriptor{},
	}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, &store.doc); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONMetadataStore) saveLocked() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

func (s *JSONMetadataStore) FetchUploadedFile(id string) (UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uf, ok := s.doc.UploadedFiles[id]
	if !ok {
		return UploadedFile{}, errors.New("uploaded file not found: " + id)
	}
	return uf, nil
}

func (s *JSONMetadataStore) UpdateUploadedFile(uf UploadedFile) (UploadedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.UploadedFiles[uf.ID] = uf
	return uf, s.saveLocked() == nil
}

func (s *JSONMetadataStore) FetchCompanionFile(id string) (CompanionFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, ok := s.doc.CompanionFiles[id]
	if !ok {
		return CompanionFile{}, errors.New("companion file not found: " + id)
	}
	return cf, nil
}

func (s *JSONMetadataStore) UpdateCompanionFile(cf CompanionFile) (CompanionFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.CompanionFiles[cf.ID] = cf
	return cf, s.saveLocked() == nil
}

func (s *JSONMetadataStore) FetchImage(imageID string) (AbstractImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.doc.Images[imageID]
	if !ok {
		return AbstractImage{}, errors.New("image not found: " + imageID)
	}
	return img, nil
}

func (s *JSONMetadataStore) FetchSlices(imageID string) ([]SliceDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slices, ok := s.doc.Slices[imageID]
	if !ok {
		return nil, errors.New("no slices recorded for image: " + imageID)
	}
	return slices, nil
}

// PutImage registers (or replaces) an image and its slices. The CLI does
// not call it; the store file it reads is prepared outside this module.
func (s *JSONMetadataStore) PutImage(img AbstractImage, slices []SliceDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Images[img.ID] = img
	s.doc.Slices[img.ID] = slices
	return s.saveLocked()
}

// PutUploadedFile registers (or replaces) an uploaded-file record.
func (s *JSONMetadataStore) PutUploadedFile(uf UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.UploadedFiles[uf.ID] = uf
	return s.saveLocked()
}

// PutCompanionFile registers (or replaces) a companion-file record.
func (s *JSONMetadataStore) PutCompanionFile(cf CompanionFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.CompanionFiles[cf.ID] = cf
	return s.saveLocked()
}
