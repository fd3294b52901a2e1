package assets

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/storefront-io/go-assetkit/assets/compression"
	"github.com/storefront-io/go-assetkit/assets/network"
	"github.com/storefront-io/go-assetkit/assets/validation"
	"github.com/storefront-io/go-assetkit/media"
)

// Config parameterizes one upload context, such as a banner or a gallery.
type Config struct {
	MaxAssets       int
	MaxBytesPerFile int64
	// MinBytesPerFile defaults to 1 KiB.
	MinBytesPerFile int64
	// MaxRetries is the number of upload attempts per file, the first one included.
	MaxRetries     int
	RequestTimeout time.Duration
	// DownscaleBounds is the largest size compressed images are scaled into.
	DownscaleBounds media.Bounds
	// CompressThreshold is the largest file size uploaded without re-encoding.
	CompressThreshold int64
	// ReplaceMode makes ModeDefault batches replace the held assets.
	ReplaceMode          bool
	RejectDuplicateNames bool
}

// BannerConfig is the preset of single-image entities.
func BannerConfig() Config {
	return Config{
		MaxAssets:         1,
		MaxBytesPerFile:   10 * units.MiB,
		MinBytesPerFile:   validation.DefaultMinBytes,
		MaxRetries:        3,
		RequestTimeout:    30 * time.Second,
		DownscaleBounds:   media.Bounds{Width: 1920, Height: 1080},
		CompressThreshold: 2 * units.MiB,
		ReplaceMode:       true,
	}
}

// GalleryConfig is the preset of multi-image entities.
func GalleryConfig() Config {
	return Config{
		MaxAssets:            10,
		MaxBytesPerFile:      5 * units.MiB,
		MinBytesPerFile:      validation.DefaultMinBytes,
		MaxRetries:           3,
		RequestTimeout:       30 * time.Second,
		DownscaleBounds:      media.Bounds{Width: 1200, Height: 1200},
		CompressThreshold:    1 * units.MiB,
		RejectDuplicateNames: true,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.MaxAssets < 1 {
		return fmt.Errorf("max assets must be at least 1, got %d", c.MaxAssets)
	}
	if c.MaxBytesPerFile <= 0 {
		return fmt.Errorf("max bytes per file must be positive, got %d", c.MaxBytesPerFile)
	}
	if c.MinBytesPerFile > c.MaxBytesPerFile {
		return fmt.Errorf("min bytes per file (%d) exceeds max bytes per file (%d)", c.MinBytesPerFile, c.MaxBytesPerFile)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// UploaderConfig returns the HTTP uploader configuration of this context.
func (c Config) UploaderConfig(endpoint string) network.Config {
	config := network.DefaultConfig(endpoint)
	if c.MaxRetries > 0 {
		config.MaxAttempts = c.MaxRetries
	}
	if c.RequestTimeout > 0 {
		config.RequestTimeout = c.RequestTimeout
	}
	return config
}

func (c Config) validationConfig() validation.Config {
	return validation.Config{
		MaxAssets:            c.MaxAssets,
		MaxBytes:             c.MaxBytesPerFile,
		MinBytes:             c.MinBytesPerFile,
		RejectDuplicateNames: c.RejectDuplicateNames,
	}
}

func (c Config) compressionPolicy() compression.Policy {
	return compression.Policy{
		Threshold: c.CompressThreshold,
		Bounds:    c.DownscaleBounds,
		Tiers:     compression.DefaultQualityTiers(),
	}
}
