// Package media holds the value types shared by the upload pipeline stages.
package media

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// Format is the normalized image encoding of a file or asset.
type Format string

// Supported formats.
const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatGIF     Format = "gif"
)

// MIME types accepted by the pipeline.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
	MIMEGIF  = "image/gif"
)

var formatsByMIME = map[string]Format{
	MIMEJPEG:    FormatJPEG,
	"image/jpg": FormatJPEG,
	MIMEPNG:     FormatPNG,
	MIMEWebP:    FormatWebP,
	MIMEGIF:     FormatGIF,
}

var extensionsByFormat = map[Format]string{
	FormatJPEG: ".jpg",
	FormatPNG:  ".png",
	FormatWebP: ".webp",
	FormatGIF:  ".gif",
}

// FormatFromMIME maps a content type to a Format, ignoring case and parameters.
func FormatFromMIME(contentType string) Format {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return formatsByMIME[mediaType]
}

// MIME returns the canonical content type of the format.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return MIMEJPEG
	case FormatPNG:
		return MIMEPNG
	case FormatWebP:
		return MIMEWebP
	case FormatGIF:
		return MIMEGIF
	}
	return ""
}

// Extension returns the file extension (with the leading dot) of the format.
func (f Format) Extension() string {
	return extensionsByFormat[f]
}

// Bounds is a maximum width and height in pixels.
type Bounds struct {
	Width  int `json:"w" yaml:"w"`
	Height int `json:"h" yaml:"h"`
}

// File is an already-resolved file handle selected by the user.
// Width and Height are only known after the compressor decoded the image.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
	Width       int
	Height      int
}

// NewFile creates a File from in-memory contents.
func NewFile(name, contentType string, data []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
}

// Format returns the format declared by the file's content type.
func (f File) Format() Format {
	return FormatFromMIME(f.ContentType)
}

// Reader returns a fresh reader over the file contents.
func (f File) Reader() io.Reader {
	return bytes.NewReader(f.Data)
}

// BaseName returns the file name without directories.
func (f File) BaseName() string {
	return filepath.Base(f.Name)
}

// MiB converts a byte count into mebibytes.
func MiB(size int64) float64 {
	return float64(size) / float64(units.MiB)
}

// HumanSize formats a byte count for log lines.
func HumanSize(size int64) string {
	return units.BytesSize(float64(size))
}
