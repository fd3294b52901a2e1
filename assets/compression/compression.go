// Package compression bounds upload payloads by re-encoding oversized raster images.
package compression

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/storefront-io/go-assetkit/media"
)

// ImageCodec decodes, resizes and encodes raster images.
type ImageCodec interface {
	Decode(r io.Reader) (image.Image, error)
	Resize(img image.Image, width, height int) image.Image
	Encode(w io.Writer, img image.Image, format media.Format, quality float64) error
}

// QualityTier selects an encode quality for originals of at least MinBytes.
type QualityTier struct {
	MinBytes int64
	Quality  float64
}

// DefaultQualityTiers ...
func DefaultQualityTiers() []QualityTier {
	return []QualityTier{
		{MinBytes: 3 * units.MiB, Quality: 0.6},
		{MinBytes: 2 * units.MiB, Quality: 0.7},
		{MinBytes: 0, Quality: 0.8},
	}
}

// Policy decides which files get re-encoded and how.
type Policy struct {
	// Threshold is the largest size passed through unchanged.
	Threshold int64
	Bounds    media.Bounds
	// Tiers must be ordered by MinBytes, largest first.
	Tiers []QualityTier
}

// QualityFor returns the encode quality for an original of the given size.
func (p Policy) QualityFor(size int64) float64 {
	tiers := p.Tiers
	if len(tiers) == 0 {
		tiers = DefaultQualityTiers()
	}
	for _, tier := range tiers {
		if size >= tier.MinBytes {
			return tier.Quality
		}
	}
	return tiers[len(tiers)-1].Quality
}

// NeedsCompression reports whether the file would be re-encoded.
// GIFs are never re-encoded to keep their animation.
func (p Policy) NeedsCompression(file media.File) bool {
	if file.Format() == media.FormatGIF {
		return false
	}
	return file.Size > p.Threshold
}

// CompressionError isolates a compression failure to one file.
type CompressionError struct {
	FileName string
	Err      error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s could not be processed: %s", e.FileName, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Compressor re-encodes files that exceed the policy threshold.
type Compressor struct {
	policy Policy
	codec  ImageCodec
	logger log.Logger
}

// New creates a Compressor. A nil codec falls back to the imaging based codec.
func New(policy Policy, codec ImageCodec, logger log.Logger) *Compressor {
	if codec == nil {
		codec = NewImagingCodec()
	}
	return &Compressor{
		policy: policy,
		codec:  codec,
		logger: logger,
	}
}

// Compress returns the file unchanged when it is small enough or a GIF,
// otherwise a downscaled JPEG with the same name.
func (c *Compressor) Compress(ctx context.Context, file media.File) (media.File, error) {
	if err := ctx.Err(); err != nil {
		return media.File{}, &CompressionError{FileName: file.Name, Err: err}
	}

	if !c.policy.NeedsCompression(file) {
		c.logger.Debugf("%s (%s) passed through without compression", file.Name, media.HumanSize(file.Size))
		return file, nil
	}

	img, err := c.codec.Decode(file.Reader())
	if err != nil {
		return media.File{}, &CompressionError{FileName: file.Name, Err: fmt.Errorf("decode image: %w", err)}
	}

	size := img.Bounds().Size()
	width, height, resize := FitWithin(size.X, size.Y, c.policy.Bounds)
	if resize {
		c.logger.Debugf("Downscaling %s from %dx%d to %dx%d", file.Name, size.X, size.Y, width, height)
		img = c.codec.Resize(img, width, height)
	}

	quality := c.policy.QualityFor(file.Size)
	var buf bytes.Buffer
	if err := c.codec.Encode(&buf, img, media.FormatJPEG, quality); err != nil {
		return media.File{}, &CompressionError{FileName: file.Name, Err: fmt.Errorf("encode image: %w", err)}
	}

	c.logger.Debugf("Compressed %s: %s -> %s (quality %.1f)",
		file.Name, media.HumanSize(file.Size), media.HumanSize(int64(buf.Len())), quality)

	return media.File{
		Name:        file.Name,
		ContentType: media.MIMEJPEG,
		Size:        int64(buf.Len()),
		Data:        buf.Bytes(),
		Width:       width,
		Height:      height,
	}, nil
}

// FitWithin scales width and height by min(maxW/width, maxH/height) when the
// image exceeds the bounds in at least one dimension. Images are never
// upscaled. A zero bound leaves that dimension unconstrained.
func FitWithin(width, height int, bounds media.Bounds) (int, int, bool) {
	if width <= 0 || height <= 0 {
		return width, height, false
	}

	ratio := 1.0
	if bounds.Width > 0 {
		ratio = math.Min(ratio, float64(bounds.Width)/float64(width))
	}
	if bounds.Height > 0 {
		ratio = math.Min(ratio, float64(bounds.Height)/float64(height))
	}
	if ratio >= 1 {
		return width, height, false
	}

	w := int(math.Round(float64(width) * ratio))
	h := int(math.Round(float64(height) * ratio))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h, true
}
