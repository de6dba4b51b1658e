package pipeline

import (
	"github.com/bitrise-io/s3dokan/errkind"
)

// MiB ...
const MiB = 1024 * 1024

// Block size limits, in MiB.
const (
	MinBlockSizeMiB = 5
	MaxBlockSizeMiB = 4095
)

// Config is immutable for the lifetime of a Session.
type Config struct {
	// Workers is the number of parts or ranges transferred at the same time.
	// Default: 8
	Workers int

	// BlockSize is the size of a part or range in bytes.
	// Default: 5 MiB
	BlockSize int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   8,
		BlockSize: MinBlockSizeMiB * MiB,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.Workers < 1 {
		return errkind.InvalidArgument("number of workers must be at least 1, got %d", c.Workers)
	}

	if c.BlockSize < 1 {
		return errkind.InvalidArgument("block size must be positive, got %d", c.BlockSize)
	}

	return nil
}

// BlockSizeFromMiB converts a user supplied block size to bytes.
// Multipart uploads need parts of at least 5 MiB, and the size has to fit a single range read.
func BlockSizeFromMiB(mib int) (int64, error) {
	if mib < MinBlockSizeMiB || mib > MaxBlockSizeMiB {
		return 0, errkind.InvalidArgument("block size must be between %d and %d MiB, got %d", MinBlockSizeMiB, MaxBlockSizeMiB, mib)
	}
	return int64(mib) * MiB, nil
}
