package compression

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/storefront-io/go-assetkit/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFile(t *testing.T, name string, width, height int) media.File {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return media.NewFile(name, media.MIMEPNG, buf.Bytes())
}

type recordingCodec struct {
	decoded   image.Image
	qualities []float64
	resized   [][2]int
}

func (c *recordingCodec) Decode(r io.Reader) (image.Image, error) {
	return c.decoded, nil
}

func (c *recordingCodec) Resize(img image.Image, width, height int) image.Image {
	c.resized = append(c.resized, [2]int{width, height})
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}

func (c *recordingCodec) Encode(w io.Writer, img image.Image, format media.Format, quality float64) error {
	c.qualities = append(c.qualities, quality)
	_, err := w.Write([]byte("jpeg"))
	return err
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		bounds        media.Bounds
		wantW, wantH  int
		wantResize    bool
	}{
		{name: "wide banner image", width: 3840, height: 1080, bounds: media.Bounds{Width: 1920, Height: 1080}, wantW: 1920, wantH: 540, wantResize: true},
		{name: "tall gallery image", width: 1000, height: 3000, bounds: media.Bounds{Width: 1200, Height: 1200}, wantW: 400, wantH: 1200, wantResize: true},
		{name: "exactly the bound", width: 1200, height: 1200, bounds: media.Bounds{Width: 1200, Height: 1200}, wantW: 1200, wantH: 1200},
		{name: "never upscale", width: 300, height: 200, bounds: media.Bounds{Width: 1200, Height: 1200}, wantW: 300, wantH: 200},
		{name: "one dimension over", width: 1300, height: 100, bounds: media.Bounds{Width: 1200, Height: 1200}, wantW: 1200, wantH: 92, wantResize: true},
		{name: "unbounded height", width: 4000, height: 8000, bounds: media.Bounds{Width: 2000}, wantW: 2000, wantH: 4000, wantResize: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, resize := FitWithin(tt.width, tt.height, tt.bounds)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantResize, resize)
		})
	}
}

func TestPolicy_QualityFor(t *testing.T) {
	p := Policy{}

	assert.Equal(t, 0.6, p.QualityFor(4*units.MiB))
	assert.Equal(t, 0.6, p.QualityFor(3*units.MiB))
	assert.Equal(t, 0.7, p.QualityFor(2*units.MiB))
	assert.Equal(t, 0.8, p.QualityFor(2*units.MiB-1))
}

func TestCompressor_PassThrough(t *testing.T) {
	codec := &recordingCodec{}
	c := New(Policy{Threshold: 1 * units.MiB}, codec, log.NewLogger())

	tests := []struct {
		name string
		file media.File
	}{
		{name: "small file", file: media.NewFile("small.png", media.MIMEPNG, make([]byte, 512*units.KiB))},
		{name: "large gif", file: media.NewFile("anim.gif", media.MIMEGIF, make([]byte, 3*units.MiB))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Compress(context.Background(), tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.file, got)
		})
	}
	assert.Empty(t, codec.qualities)
}

func TestCompressor_TieredQuality(t *testing.T) {
	codec := &recordingCodec{decoded: image.NewNRGBA(image.Rect(0, 0, 800, 600))}
	c := New(Policy{Threshold: 1 * units.MiB, Bounds: media.Bounds{Width: 1200, Height: 1200}}, codec, log.NewLogger())

	for _, size := range []int64{3 * units.MiB, 2 * units.MiB, 1*units.MiB + 1} {
		got, err := c.Compress(context.Background(), media.NewFile("photo.webp", media.MIMEWebP, make([]byte, size)))
		require.NoError(t, err)
		assert.Equal(t, "photo.webp", got.Name)
		assert.Equal(t, media.MIMEJPEG, got.ContentType)
		assert.Equal(t, 800, got.Width)
		assert.Equal(t, 600, got.Height)
	}

	assert.Equal(t, []float64{0.6, 0.7, 0.8}, codec.qualities)
	assert.Empty(t, codec.resized)
}

func TestCompressor_DownscalesWithImagingCodec(t *testing.T) {
	file := pngFile(t, "wide.png", 2400, 600)
	c := New(Policy{Threshold: 100, Bounds: media.Bounds{Width: 1200, Height: 1200}}, nil, log.NewLogger())

	got, err := c.Compress(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, "wide.png", got.Name)
	assert.Equal(t, media.MIMEJPEG, got.ContentType)
	assert.Equal(t, int64(len(got.Data)), got.Size)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.Width)
	assert.Equal(t, 300, cfg.Height)
	assert.Equal(t, 1200, got.Width)
	assert.Equal(t, 300, got.Height)
}

func TestCompressor_CorruptImage(t *testing.T) {
	c := New(Policy{Threshold: 10}, nil, log.NewLogger())

	_, err := c.Compress(context.Background(), media.NewFile("broken.jpg", media.MIMEJPEG, []byte("definitely not a jpeg")))

	var cerr *CompressionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "broken.jpg", cerr.FileName)
	assert.Contains(t, err.Error(), "broken.jpg")
}

func TestCompressor_CancelledContext(t *testing.T) {
	c := New(Policy{Threshold: 10}, &recordingCodec{}, log.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compress(ctx, media.NewFile("a.png", media.MIMEPNG, make([]byte, 100)))

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
