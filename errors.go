package lingvec

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNeverTrained is returned when saving or querying before any
	// training or load happened.
	ErrModelNeverTrained = errors.New("model never trained")

	// ErrQuantizedExport is returned when exporting raw vectors from a
	// quantized matrix.
	ErrQuantizedExport = errors.New("cannot export quantized matrix")

	// ErrAborted is recorded by Abort and re-raised after workers join.
	ErrAborted = errors.New("aborted")

	// ErrNotSupervised is returned when a labels-only operation is invoked
	// on an unsupervised model.
	ErrNotSupervised = errors.New("model needs to be supervised")

	// ErrQuantizeUnsupported is returned when quantizing a non-supervised
	// model.
	ErrQuantizeUnsupported = errors.New("for now we only support quantization of supervised models")

	// ErrPrunedModel is returned when a dense model file carries a pruned
	// dictionary, which only quantized files may.
	ErrPrunedModel = errors.New("invalid model file: pruned dictionary without quantization")
)

// ErrInvalidMagic indicates a file that is not a lingvec model.
type ErrInvalidMagic struct {
	Got int32
}

func (e *ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid model file magic: %d", e.Got)
}

// ErrUnsupportedVersion indicates a model file newer than this build.
type ErrUnsupportedVersion struct {
	Got int32
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported model file version: %d (max %d)", e.Got, modelVersion)
}

// ErrDimensionMismatch indicates pretrained vectors whose dimensionality
// differs from -dim.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension of pretrained vectors (%d) does not match dimension (%d)", e.Actual, e.Expected)
}
