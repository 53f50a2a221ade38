package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	// Generated images default to WebP; register the decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for data that is not a raster image the
// editor can decode.
var ErrUnsupportedFormat = errors.New("unsupported or unrecognized image format")

// DetectFormat inspects the raw bytes and returns the image format:
// "jpeg", "png", "gif", "webp", or "" if unknown.
func DetectFormat(data []byte) string {
	// JPEG: starts with FF D8 FF
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg"
	}
	// PNG: starts with 89 50 4E 47 0D 0A 1A 0A
	if len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "png"
	}
	// GIF: starts with GIF87a or GIF89a
	if len(data) >= 6 && data[0] == 'G' && data[1] == 'I' && data[2] == 'F' {
		return "gif"
	}
	// WebP: starts with RIFF....WEBP
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "webp"
	}
	return ""
}

// IsSVG checks whether the data appears to be SVG content by looking for
// an <svg tag near the beginning of the file.
func IsSVG(data []byte) bool {
	limit := min(len(data), 512)
	return bytes.Contains(data[:limit], []byte("<svg"))
}

// ContentType maps a format name to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// Decode decodes a raster image and reports its format. SVG and unknown data
// are rejected with ErrUnsupportedFormat.
func Decode(data []byte) (image.Image, string, error) {
	if IsSVG(data) {
		return nil, "svg", ErrUnsupportedFormat
	}
	format := DetectFormat(data)
	if format == "" {
		return nil, "", ErrUnsupportedFormat
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// OutputFormat returns the format an edited image is written in. There is no
// WebP encoder, so WebP sources are written as PNG.
func OutputFormat(source string) string {
	if source == "webp" || source == "" {
		return "png"
	}
	return source
}

// Encode encodes img in the given format.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, err
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}
