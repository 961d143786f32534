package hms

import (
	"errors"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the server's tunables: tile size, worker counts, queue
// capacities, progress granularity and metadata retry policy, plus where
// cubes live on disk.
type Config struct {
	TileSize             int           `toml:"tile_size"`
	ReaderWorkers         int           `toml:"reader_workers"`
	WriteQueueCapacity    int           `toml:"write_queue_capacity"`
	ProgressUpdatePeriod  int           `toml:"progress_update_period"`
	MetadataRetries       int           `toml:"metadata_retries"`
	MetadataRetryBackoff  time.Duration `toml:"-"`
	MetadataRetryBackoffMs int64        `toml:"metadata_retry_backoff_ms"`
	CubeRoot              string        `toml:"cube_root"`
	BatchWorkers          int           `toml:"batch_workers"`
	LedgerCompression     string        `toml:"ledger_compression"`
}

// DefaultConfig mirrors DefaultIngestConfig's values plus the server-only
// fields (CubeRoot, BatchWorkers) not meaningful to a single Ingest call.
func DefaultConfig() Config {
	return Config{
		TileSize:               512,
		ReaderWorkers:          0,
		WriteQueueCapacity:     512,
		ProgressUpdatePeriod:   50,
		MetadataRetries:        DefaultMetadataRetries,
		MetadataRetryBackoff:   time.Second,
		MetadataRetryBackoffMs: 1000,
		CubeRoot:               "cubes",
		BatchWorkers:           4,
		LedgerCompression:      "zstd",
	}
}

// LoadConfig decodes path over a copy of DefaultConfig, so a partial TOML
// file only overrides the fields it names (the same defaults-then-decode
// shape the corpus uses for its own config file).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.MetadataRetryBackoff = time.Duration(cfg.MetadataRetryBackoffMs) * time.Millisecond
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TileSize <= 0 {
		return errors.New("tile_size must be > 0")
	}
	if c.WriteQueueCapacity <= 0 {
		return errors.New("write_queue_capacity must be > 0")
	}
	if c.MetadataRetries < 0 {
		return errors.New("metadata_retries must be >= 0")
	}
	if c.CubeRoot == "" {
		return errors.New("cube_root must not be empty")
	}
	switch c.LedgerCompression {
	case "zstd", "gzip", "lz4":
	default:
		return errors.New("ledger_compression must be one of zstd, gzip, lz4")
	}
	return nil
}

// IngestConfig projects the subset of Config the ingest scheduler consumes.
func (c Config) IngestConfig(resume bool) IngestConfig {
	compression := c.LedgerCompression
	if compression == "" {
		compression = "zstd"
	}
	return IngestConfig{
		TileSize:             c.TileSize,
		ReaderWorkers:        c.ReaderWorkers,
		WriteQueueCapacity:   c.WriteQueueCapacity,
		ProgressUpdatePeriod: c.ProgressUpdatePeriod,
		MetadataRetries:      c.MetadataRetries,
		Resume:               resume,
		LedgerCompression:    compression,
	}
}
