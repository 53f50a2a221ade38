// Package oplog maintains the ordered list of edits applied to an image.
//
// Logs are values: every function returns a new slice and never modifies its
// argument, so a log can be shared with a concurrent replay.
package oplog

import "github.com/leca/yodel-image/internal/model"

// Append adds op to the end of log and deduplicates the result.
func Append(log []model.ImageOperation, op model.ImageOperation) []model.ImageOperation {
	combined := make([]model.ImageOperation, 0, len(log)+1)
	combined = append(combined, log...)
	combined = append(combined, op)
	return Dedupe(combined)
}

// Revert drops the last operation. An empty log is returned unchanged.
//
// If the last entry is the product of a merge (two rotations, say) the whole
// merged entry goes away; the pre-merge pair is not restored.
func Revert(log []model.ImageOperation) []model.ImageOperation {
	if len(log) == 0 {
		return []model.ImageOperation{}
	}
	out := make([]model.ImageOperation, len(log)-1)
	copy(out, log[:len(log)-1])
	return out
}

// Dedupe folds log left to right, comparing each operation with the tail of
// the result built so far:
//
//   - rotate after rotate merges into one rotate of the summed angle mod 360
//   - flip after flip on the same axis removes both
//   - any other repeat with an identical payload keeps only the first
//
// Operations that are not adjacent at the time they are folded are left alone.
func Dedupe(log []model.ImageOperation) []model.ImageOperation {
	out := make([]model.ImageOperation, 0, len(log))
	for _, op := range log {
		out = fold(out, op)
	}
	return out
}

func fold(acc []model.ImageOperation, op model.ImageOperation) []model.ImageOperation {
	if len(acc) == 0 {
		return append(acc, op)
	}
	last := acc[len(acc)-1]
	if last.Type != op.Type {
		return append(acc, op)
	}

	switch op.Type {
	case model.OpRotate:
		acc[len(acc)-1] = model.Rotate(last.Payload.Angle + op.Payload.Angle)
		return acc
	case model.OpFlip:
		if last.Payload.Axis == op.Payload.Axis {
			return acc[:len(acc)-1]
		}
		return append(acc, op)
	default:
		if last.Payload == op.Payload {
			return acc
		}
		return append(acc, op)
	}
}
