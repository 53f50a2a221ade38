package model

import (
	"fmt"
	"math"
	"time"
)

// OperationType identifies an image edit.
type OperationType string

const (
	OpCrop   OperationType = "crop"
	OpRotate OperationType = "rotate"
	OpFlip   OperationType = "flip"
	OpScale  OperationType = "scale"
)

// FlipAxis is the mirror axis of a flip operation.
type FlipAxis string

const (
	FlipHorizontal FlipAxis = "horizontal"
	FlipVertical   FlipAxis = "vertical"
)

// OperationPayload carries the kind-specific parameters of an ImageOperation.
// Only the fields relevant to the operation type are set.
type OperationPayload struct {
	X      int      `json:"x,omitempty"`
	Y      int      `json:"y,omitempty"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
	Angle  float64  `json:"angle,omitempty"`
	Axis   FlipAxis `json:"axis,omitempty"`
	Factor float64  `json:"factor,omitempty"`
}

// ImageOperation is a single user-issued edit.
type ImageOperation struct {
	Type    OperationType    `json:"type"`
	Payload OperationPayload `json:"payload"`
}

// Crop returns a crop operation for the given pixel rectangle.
func Crop(x, y, width, height int) ImageOperation {
	return ImageOperation{Type: OpCrop, Payload: OperationPayload{X: x, Y: y, Width: width, Height: height}}
}

// Rotate returns a rotate operation with the angle normalized to [0, 360).
func Rotate(angle float64) ImageOperation {
	return ImageOperation{Type: OpRotate, Payload: OperationPayload{Angle: NormalizeAngle(angle)}}
}

// Flip returns a flip operation along axis.
func Flip(axis FlipAxis) ImageOperation {
	return ImageOperation{Type: OpFlip, Payload: OperationPayload{Axis: axis}}
}

// Scale returns a uniform scale operation.
func Scale(factor float64) ImageOperation {
	return ImageOperation{Type: OpScale, Payload: OperationPayload{Factor: factor}}
}

// NormalizeAngle maps any angle in degrees onto [0, 360).
func NormalizeAngle(angle float64) float64 {
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	// -0 and 360 after rounding both become 0.
	if a == 0 || a >= 360 {
		return 0
	}
	return a
}

// Validate reports whether the operation is well formed. Range checks that
// depend on the current image (crop bounds, scale sign) happen at replay.
func (op ImageOperation) Validate() error {
	switch op.Type {
	case OpCrop, OpScale:
		return nil
	case OpRotate:
		if math.IsNaN(op.Payload.Angle) || math.IsInf(op.Payload.Angle, 0) {
			return fmt.Errorf("invalid rotation angle")
		}
		return nil
	case OpFlip:
		if op.Payload.Axis != FlipHorizontal && op.Payload.Axis != FlipVertical {
			return fmt.Errorf("invalid flip axis: %q", op.Payload.Axis)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation type: %q", op.Type)
	}
}

// EditSession binds an operation log to an uploaded original image.
type EditSession struct {
	ID         string           `json:"id"`
	Filename   string           `json:"filename"`
	Format     string           `json:"format"`
	Operations []ImageOperation `json:"operations"`
	MediaID    int              `json:"mediaId,omitempty"`
	Created    time.Time        `json:"created"`
	Updated    time.Time        `json:"updated"`
}
