package compression

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/storefront-io/go-assetkit/media"

	// registers the WebP decoder for image.Decode
	_ "golang.org/x/image/webp"
)

type imagingCodec struct {
	filter imaging.ResampleFilter
}

// NewImagingCodec returns the default ImageCodec. Decoding honours the EXIF
// orientation of JPEG photos.
func NewImagingCodec() ImageCodec {
	return imagingCodec{filter: imaging.Lanczos}
}

func (c imagingCodec) Decode(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

func (c imagingCodec) Resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, c.filter)
}

func (c imagingCodec) Encode(w io.Writer, img image.Image, format media.Format, quality float64) error {
	switch format {
	case media.FormatJPEG:
		// JPEG has no alpha channel, transparent areas become white
		bounds := img.Bounds()
		flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
		flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)
		return imaging.Encode(w, flat, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality)))
	case media.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case media.FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)
	}
	return fmt.Errorf("encoding to %q is not supported", format)
}

func jpegQuality(quality float64) int {
	q := int(quality*100 + 0.5)
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
