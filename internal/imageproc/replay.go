package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/leca/yodel-image/internal/model"
)

var (
	// ErrInvalidRegion is returned when a crop rectangle leaves the image.
	ErrInvalidRegion = errors.New("invalid crop region")
	// ErrInvalidScale is returned for a non-positive scale factor.
	ErrInvalidScale = errors.New("invalid scale factor")
	// ErrTooLarge is returned when an image, or the result of an operation,
	// would exceed the pixel limit.
	ErrTooLarge = errors.New("image exceeds pixel limit")
)

// DefaultMaxPixels is the pixel limit of a zero Replayer.
const DefaultMaxPixels int64 = 50_000_000

// Replayer replays operation logs without letting any image along the way
// grow past MaxPixels. The zero value uses DefaultMaxPixels.
type Replayer struct {
	MaxPixels int64
}

// Replay runs ops with the default pixel limit.
func Replay(original image.Image, ops []model.ImageOperation) (*image.NRGBA, error) {
	return Replayer{}.Replay(original, ops)
}

// ReplayBytes runs ops over encoded data with the default pixel limit.
func ReplayBytes(data []byte, ops []model.ImageOperation) ([]byte, string, error) {
	return Replayer{}.ReplayBytes(data, ops)
}

// Apply runs a single operation with the default pixel limit.
func Apply(img *image.NRGBA, op model.ImageOperation) (*image.NRGBA, error) {
	return Replayer{}.Apply(img, op)
}

func (r Replayer) limit() int64 {
	if r.MaxPixels > 0 {
		return r.MaxPixels
	}
	return DefaultMaxPixels
}

// checkArea works in float64 so huge factors cannot overflow.
func (r Replayer) checkArea(w, h float64) error {
	if !(w*h <= float64(r.limit())) {
		return fmt.Errorf("%w: %.0fx%.0f is over %d pixels", ErrTooLarge, w, h, r.limit())
	}
	return nil
}

// Decode is like the package-level Decode but reads the header first and
// refuses images over the pixel limit before allocating them.
func (r Replayer) Decode(data []byte) (image.Image, string, error) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if err := r.checkArea(float64(cfg.Width), float64(cfg.Height)); err != nil {
			return nil, DetectFormat(data), err
		}
	}
	return Decode(data)
}

// Replay applies ops in order to a copy of original and returns the result.
// original is never modified. If any operation fails the error names its
// position and nothing of the partial result is returned.
func (r Replayer) Replay(original image.Image, ops []model.ImageOperation) (*image.NRGBA, error) {
	b := original.Bounds()
	if err := r.checkArea(float64(b.Dx()), float64(b.Dy())); err != nil {
		return nil, err
	}
	img := imaging.Clone(original)
	for i, op := range ops {
		next, err := r.Apply(img, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Type, err)
		}
		img = next
	}
	return img, nil
}

// ReplayBytes decodes data, replays ops and encodes the result. It returns the
// encoded bytes and their format.
func (r Replayer) ReplayBytes(data []byte, ops []model.ImageOperation) ([]byte, string, error) {
	src, format, err := r.Decode(data)
	if err != nil {
		return nil, "", err
	}
	out, err := r.Replay(src, ops)
	if err != nil {
		return nil, "", err
	}
	format = OutputFormat(format)
	encoded, err := Encode(out, format)
	if err != nil {
		return nil, "", fmt.Errorf("encoding image: %w", err)
	}
	return encoded, format, nil
}

// Apply runs a single operation against img.
func (r Replayer) Apply(img *image.NRGBA, op model.ImageOperation) (*image.NRGBA, error) {
	p := op.Payload
	switch op.Type {
	case model.OpCrop:
		return crop(img, p.X, p.Y, p.Width, p.Height)
	case model.OpRotate:
		return r.rotate(img, p.Angle)
	case model.OpFlip:
		switch p.Axis {
		case model.FlipHorizontal:
			return imaging.FlipH(img), nil
		case model.FlipVertical:
			return imaging.FlipV(img), nil
		}
		return nil, fmt.Errorf("invalid flip axis: %q", p.Axis)
	case model.OpScale:
		return r.scale(img, p.Factor)
	default:
		return nil, fmt.Errorf("unknown operation type: %q", op.Type)
	}
}

func crop(img *image.NRGBA, x, y, w, h int) (*image.NRGBA, error) {
	b := img.Bounds()
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > b.Dx() || y+h > b.Dy() {
		return nil, fmt.Errorf("%w: %dx%d at (%d,%d) outside %dx%d", ErrInvalidRegion, w, h, x, y, b.Dx(), b.Dy())
	}
	return imaging.Crop(img, image.Rect(x, y, x+w, y+h)), nil
}

// rotate turns img clockwise by angle degrees. Quarter turns are exact;
// other angles grow the canvas and fill the corners with transparency.
func (r Replayer) rotate(img *image.NRGBA, angle float64) (*image.NRGBA, error) {
	switch model.NormalizeAngle(angle) {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	}
	b := img.Bounds()
	rad := angle * math.Pi / 180
	sin, cos := math.Abs(math.Sin(rad)), math.Abs(math.Cos(rad))
	w, h := float64(b.Dx()), float64(b.Dy())
	if err := r.checkArea(math.Ceil(w*cos+h*sin)+1, math.Ceil(w*sin+h*cos)+1); err != nil {
		return nil, err
	}
	// imaging rotates counter-clockwise.
	return imaging.Rotate(img, -angle, color.Transparent), nil
}

func (r Replayer) scale(img *image.NRGBA, factor float64) (*image.NRGBA, error) {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, factor)
	}
	b := img.Bounds()
	fw := max(1, math.Round(float64(b.Dx())*factor))
	fh := max(1, math.Round(float64(b.Dy())*factor))
	if err := r.checkArea(fw, fh); err != nil {
		return nil, err
	}
	w, h := int(fw), int(fh)
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
