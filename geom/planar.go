package geom

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	sf "github.com/peterstace/simplefeatures/geom"

	"github.com/tingold/bigeo/crs"
)

// Planar computes everything in the 2D plane of the input coordinates.
type Planar struct{}

// Name returns "planar".
func (Planar) Name() string { return PlanarEngine }

// Envelope returns g.Bound().
func (Planar) Envelope(_ context.Context, g orb.Geometry) (orb.Bound, error) {
	if err := checkGeometry(g); err != nil {
		return orb.Bound{}, err
	}
	return g.Bound(), nil
}

// Centroid returns the area weighted centroid. Polygons without area fall
// back to the length weighted centroid of their outer ring, lines to their
// length weighted centroid and points to their mean.
func (Planar) Centroid(_ context.Context, g orb.Geometry) (orb.Point, error) {
	if err := checkGeometry(g); err != nil {
		return orb.Point{}, err
	}
	c, _ := planar.CentroidArea(g)
	return c, nil
}

// RepresentativePoint returns a point guaranteed to lie on g, computed by
// simplefeatures' PointOnSurface. Polygons without area fall back to a point
// on their boundary.
func (Planar) RepresentativePoint(_ context.Context, g orb.Geometry) (orb.Point, error) {
	data, err := encode(g)
	if err != nil {
		return orb.Point{}, err
	}
	sg, err := sf.UnmarshalWKB(data, sf.NoValidate{})
	if err != nil {
		return orb.Point{}, fmt.Errorf("%w: %v", ErrUnsupportedGeometry, err)
	}

	xy, ok := sg.PointOnSurface().XY()
	if !ok {
		xy, ok = sg.Boundary().PointOnSurface().XY()
	}
	if !ok {
		return orb.Point{}, ErrEmptyGeometry
	}
	return orb.Point{xy.X, xy.Y}, nil
}

// Projector supports the identity and conversions between EPSG:4326 and
// EPSG:3857.
func (Planar) Projector(from, to crs.CRS) (Projector, error) {
	if from.Equal(to) {
		return identity{}, nil
	}

	switch {
	case from.Code == crs.WGS84 && to.Code == crs.WebMercator:
		return orbProjector(project.WGS84.ToMercator), nil
	case from.Code == crs.WebMercator && to.Code == crs.WGS84:
		return orbProjector(project.Mercator.ToWGS84), nil
	}
	return nil, fmt.Errorf("%w: %s to %s with the planar engine", ErrUnsupportedProjection, from, to)
}

// Close is a no-op.
func (Planar) Close() error { return nil }

type orbProjector orb.Projection

func (p orbProjector) Project(_ context.Context, g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	if err := checkGeometry(g); err != nil && !errors.Is(err, ErrEmptyGeometry) {
		return nil, err
	}
	// project works in place
	return project.Geometry(orb.Clone(g), orb.Projection(p)), nil
}
