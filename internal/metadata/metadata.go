// Package metadata extracts capture dates embedded in image files.
package metadata

import (
	"fmt"
	"io"
	"os"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/rubiojr/timefix/internal/resolver"
)

// Reader returns the raw date tags of an image.
type Reader interface {
	Read(path string) (resolver.Metadata, error)
}

// ExifReader reads EXIF date tags with goexif.
type ExifReader struct{}

func NewExifReader() *ExifReader {
	return &ExifReader{}
}

// Read opens path and decodes its EXIF block. Files without EXIF data, or
// with a block goexif cannot parse, yield empty metadata and no error. Only
// failing to open the file is reported.
func (r *ExifReader) Read(path string) (resolver.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return resolver.Metadata{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f), nil
}

// Decode reads the date tags from an EXIF stream. Only JPEG APP1 segments
// and bare TIFF streams are recognized; EXIF inside PNG, WebP or HEIC
// containers yields empty metadata.
func Decode(r io.Reader) resolver.Metadata {
	x, err := exif.Decode(r)
	if err != nil && x == nil {
		return resolver.Metadata{}
	}

	return resolver.Metadata{
		Original:  stringTag(x, exif.DateTimeOriginal),
		Digitized: stringTag(x, exif.DateTimeDigitized),
		Modified:  stringTag(x, exif.DateTime),
	}
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
