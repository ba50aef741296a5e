// Package geom computes envelopes, centroids and representative points of
// orb geometries and transforms them between coordinate reference systems.
//
// Two engines are available. The planar engine is pure Go and understands
// the WGS 84 and Web Mercator systems. The duckdb engine delegates to the
// DuckDB spatial extension and accepts any CRS PROJ can resolve.
package geom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/tingold/bigeo/crs"
)

// Common errors returned by this package.
var (
	ErrEmptyGeometry         = errors.New("geom: empty geometry")
	ErrUnsupportedGeometry   = errors.New("geom: unsupported geometry type")
	ErrUnsupportedProjection = errors.New("geom: unsupported projection")
	ErrUnknownEngine         = errors.New("geom: unknown engine")
)

// Engine names accepted by New.
const (
	PlanarEngine = "planar"
	DuckDBEngine = "duckdb"
)

// Engine answers the per-geometry questions of the feature pipeline.
type Engine interface {
	Name() string
	// Envelope returns the axis-aligned bounding box of g.
	Envelope(ctx context.Context, g orb.Geometry) (orb.Bound, error)
	// Centroid returns the center of mass of g.
	Centroid(ctx context.Context, g orb.Geometry) (orb.Point, error)
	// RepresentativePoint returns a point on or inside g.
	RepresentativePoint(ctx context.Context, g orb.Geometry) (orb.Point, error)
	// Projector returns a transformation between two systems.
	Projector(from, to crs.CRS) (Projector, error)
	Close() error
}

// Projector transforms geometries from one CRS into another. The input
// geometry is never modified.
type Projector interface {
	Project(ctx context.Context, g orb.Geometry) (orb.Geometry, error)
}

// Options configures engine construction.
type Options struct {
	DuckDBPath string   // database file, empty for in-memory
	Extensions []string // extra DuckDB extensions to load after spatial
}

// New returns the engine registered under name. An empty name selects the
// planar engine.
func New(ctx context.Context, name string, opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PlanarEngine:
		return Planar{}, nil
	case DuckDBEngine:
		return NewDuckDB(ctx, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
}

// Engines lists the accepted engine names.
func Engines() []string {
	return []string{DuckDBEngine, PlanarEngine}
}

// BoundPolygon returns b as a closed five point polygon.
func BoundPolygon(b orb.Bound) orb.Polygon {
	return b.ToPolygon()
}

// IsEmpty reports whether g has no coordinates.
func IsEmpty(g orb.Geometry) bool {
	return g == nil || g.Bound().IsEmpty()
}

func checkGeometry(g orb.Geometry) error {
	if g == nil {
		return ErrEmptyGeometry
	}
	switch g.(type) {
	case orb.Point, orb.MultiPoint, orb.LineString, orb.MultiLineString,
		orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Collection, orb.Bound:
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
	if IsEmpty(g) {
		return ErrEmptyGeometry
	}
	return nil
}

type identity struct{}

func (identity) Project(_ context.Context, g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	return orb.Clone(g), nil
}

// encode returns g as WKB with every ring closed.
func encode(g orb.Geometry) ([]byte, error) {
	if err := checkGeometry(g); err != nil {
		return nil, err
	}
	data, err := wkb.Marshal(closeRings(g))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGeometry, err)
	}
	return data, nil
}

// closeRings returns g, or a copy of g whose open rings repeat their first
// point at the end.
func closeRings(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Ring:
		return closeRing(g)
	case orb.Polygon:
		p := make(orb.Polygon, len(g))
		for i, r := range g {
			p[i] = closeRing(r)
		}
		return p
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			mp[i] = closeRings(p).(orb.Polygon)
		}
		return mp
	case orb.Collection:
		c := make(orb.Collection, len(g))
		for i, member := range g {
			c[i] = closeRings(member)
		}
		return c
	}
	return g
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 || r.Closed() {
		return r
	}
	closed := make(orb.Ring, len(r), len(r)+1)
	copy(closed, r)
	return append(closed, r[0])
}
