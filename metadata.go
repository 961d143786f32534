package hms

// UploadedFileStatus enumerates the conversion state machine:
// UPLOADED -> CONVERTING -> {CONVERTED, ERROR_CONVERSION}.
type UploadedFileStatus string

const (
	StatusUploaded         UploadedFileStatus = "UPLOADED"
	StatusConverting       UploadedFileStatus = "CONVERTING"
	StatusConverted        UploadedFileStatus = "CONVERTED"
	StatusErrorConversion  UploadedFileStatus = "ERROR_CONVERSION"
)

// UploadedFile is opaque to the core except for its status transitions
// and size.
type UploadedFile struct {
	ID     string
	Path   string
	Status UploadedFileStatus
	Size   int64
}

// CompanionFile is opaque to the core except for its progress field.
type CompanionFile struct {
	ID           string
	UploadedFile string
	Image        string
	Progress     int
}

// AbstractImage is the subset of image metadata the core requires.
type AbstractImage struct {
	ID               string
	Width            uint32
	Height           uint32
	Channels         uint32
	Depth            uint32
	Duration         uint32
	BitPerSample     uint8
	HasBitPerSample  bool
	OriginalFilename string
}

func (a AbstractImage) Descriptor() ImageDescriptor {
	return ImageDescriptor{
		Width: a.Width, Height: a.Height, OriginalName: a.OriginalFilename,
		Channels: a.Channels, Depth: a.Depth, Duration: a.Duration,
		BitsPerSample: a.BitPerSample, HasBitsPerSample: a.HasBitPerSample,
	}
}

// MetadataStore is the external collaborator the core depends on for
// fetching and updating the two record types, and for enumerating an
// image's slices.
type MetadataStore interface {
	FetchUploadedFile(id string) (UploadedFile, error)
	UpdateUploadedFile(uf UploadedFile) (UploadedFile, bool)

	FetchCompanionFile(id string) (CompanionFile, error)
	UpdateCompanionFile(cf CompanionFile) (CompanionFile, bool)

	FetchImage(imageID string) (AbstractImage, error)
	FetchSlices(imageID string) ([]SliceDescriptor, error)
}
