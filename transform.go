package bigeo

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/tingold/bigeo/crs"
	"github.com/tingold/bigeo/geom"
	"github.com/tingold/bigeo/vector"
)

// Operation is the closed set of per-feature geometry transforms.
type Operation int

// Operations.
const (
	Reproject Operation = iota
	BoundingBox
	Centroid
	RepresentativePoint
)

// operationNames are the command line selectors.
var operationNames = [...]string{"reprojector", "boundingbox", "centroids", "representativepoint"}

// operationAliases are accepted in place of the selectors.
var operationAliases = map[Operation][]string{
	Reproject:           {"reproject"},
	BoundingBox:         {"bbox", "envelope"},
	Centroid:            {"centroid"},
	RepresentativePoint: {"representative-point", "pointonsurface"},
}

func (o Operation) String() string {
	if o >= 0 && int(o) < len(operationNames) {
		return operationNames[o]
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// Aliases returns the alternative command line names of o.
func (o Operation) Aliases() []string {
	return append([]string(nil), operationAliases[o]...)
}

// OutputType returns the geometry type an operation produces for a dataset
// declaring in.
func (o Operation) OutputType(in vector.GeometryType) vector.GeometryType {
	switch o {
	case BoundingBox:
		return vector.Polygon
	case Centroid, RepresentativePoint:
		return vector.Point
	}
	return in
}

// Transform is an operation plus its parameters. Target is only used by
// Reproject.
type Transform struct {
	Op     Operation
	Target crs.CRS
}

// apply maps one geometry. p is only used by Reproject.
func (t Transform) apply(ctx context.Context, e geom.Engine, p geom.Projector, g orb.Geometry) (orb.Geometry, error) {
	switch t.Op {
	case Reproject:
		return p.Project(ctx, g)
	case BoundingBox:
		b, err := e.Envelope(ctx, g)
		if err != nil {
			return nil, err
		}
		return geom.BoundPolygon(b), nil
	case Centroid:
		return e.Centroid(ctx, g)
	case RepresentativePoint:
		return e.RepresentativePoint(ctx, g)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, t.Op)
}
