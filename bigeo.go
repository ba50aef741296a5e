// Package bigeo runs batch transformations over vector datasets. Features
// are streamed from a source dataset, their geometry is reprojected or
// replaced by a derived geometry (bounding box, centroid, representative
// point) and they are written in order to a destination dataset that keeps
// the source attributes.
//
// Dataset formats are handled by package vector and geometry questions are
// answered by a geom.Engine.
package bigeo

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every *Error returned by a pipeline run matches exactly one
// of these with errors.Is.
var (
	ErrDatasetOpen  = errors.New("bigeo: cannot open dataset")
	ErrProjection   = errors.New("bigeo: projection failed")
	ErrDatasetWrite = errors.New("bigeo: cannot write dataset")
	ErrGeometry     = errors.New("bigeo: geometry not supported by transform")
)

// Errors for calls that do not satisfy the pipeline contract.
var (
	ErrSourceCount      = errors.New("bigeo: wrong number of source datasets")
	ErrUnknownOperation = errors.New("bigeo: unknown operation")
)

// Error describes a failed pipeline run.
type Error struct {
	Kind    error     // one of the error kinds above
	Op      Operation // operation being run
	Path    string    // dataset the error relates to
	Feature int       // zero-based feature index, -1 when not feature specific
	Err     error     // underlying error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Feature >= 0 {
		fmt.Fprintf(&b, " feature %d", e.Feature)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op Operation, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Feature: -1, Err: err}
}
