package geom

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/tingold/bigeo/crs"
)

const (
	envelopeQuery  = `SELECT ST_XMin(g), ST_YMin(g), ST_XMax(g), ST_YMax(g) FROM (SELECT ST_GeomFromWKB(?) AS g)`
	centroidQuery  = `SELECT ST_X(p), ST_Y(p) FROM (SELECT ST_Centroid(ST_GeomFromWKB(?)) AS p)`
	surfaceQuery   = `SELECT ST_X(p), ST_Y(p) FROM (SELECT ST_PointOnSurface(ST_GeomFromWKB(?)) AS p)`
	transformQuery = `SELECT ST_AsWKB(ST_Transform(ST_GeomFromWKB(?), ?, ?, true))::BLOB`
	probeQuery     = `SELECT ST_AsText(ST_Transform(ST_Point(0, 0), ?, ?, true))`
)

// DuckDB evaluates geometry functions with the DuckDB spatial extension.
// Statements run on a single connection, so an engine is not meant for
// concurrent use.
type DuckDB struct {
	db *sql.DB

	envelope  *sql.Stmt
	centroid  *sql.Stmt
	surface   *sql.Stmt
	transform *sql.Stmt
}

// NewDuckDB opens a DuckDB database and loads the spatial extension.
func NewDuckDB(ctx context.Context, opts Options) (*DuckDB, error) {
	c, err := duckdb.NewConnector(opts.DuckDBPath, nil)
	if err != nil {
		return nil, fmt.Errorf("geom: open duckdb: %w", err)
	}

	db := sql.OpenDB(c)
	// extensions are loaded per connection
	db.SetMaxOpenConns(1)

	e := &DuckDB{db: db}
	for _, ext := range append([]string{"spatial"}, opts.Extensions...) {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			db.Close()
			return nil, fmt.Errorf("geom: load duckdb extension %s: %w", ext, err)
		}
	}

	for _, s := range []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&e.envelope, envelopeQuery},
		{&e.centroid, centroidQuery},
		{&e.surface, surfaceQuery},
		{&e.transform, transformQuery},
	} {
		if *s.stmt, err = db.PrepareContext(ctx, s.query); err != nil {
			e.Close()
			return nil, fmt.Errorf("geom: prepare %q: %w", s.query, err)
		}
	}
	return e, nil
}

// Name returns "duckdb".
func (e *DuckDB) Name() string { return DuckDBEngine }

// Envelope evaluates ST_XMin, ST_YMin, ST_XMax and ST_YMax.
func (e *DuckDB) Envelope(ctx context.Context, g orb.Geometry) (orb.Bound, error) {
	data, err := encode(g)
	if err != nil {
		return orb.Bound{}, err
	}

	var minX, minY, maxX, maxY sql.NullFloat64
	if err := e.envelope.QueryRowContext(ctx, data).Scan(&minX, &minY, &maxX, &maxY); err != nil {
		return orb.Bound{}, fmt.Errorf("geom: envelope: %w", err)
	}
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return orb.Bound{}, ErrEmptyGeometry
	}
	return orb.Bound{
		Min: orb.Point{minX.Float64, minY.Float64},
		Max: orb.Point{maxX.Float64, maxY.Float64},
	}, nil
}

// Centroid evaluates ST_Centroid.
func (e *DuckDB) Centroid(ctx context.Context, g orb.Geometry) (orb.Point, error) {
	return e.point(ctx, e.centroid, g)
}

// RepresentativePoint evaluates ST_PointOnSurface.
func (e *DuckDB) RepresentativePoint(ctx context.Context, g orb.Geometry) (orb.Point, error) {
	return e.point(ctx, e.surface, g)
}

func (e *DuckDB) point(ctx context.Context, stmt *sql.Stmt, g orb.Geometry) (orb.Point, error) {
	data, err := encode(g)
	if err != nil {
		return orb.Point{}, err
	}

	var x, y sql.NullFloat64
	if err := stmt.QueryRowContext(ctx, data).Scan(&x, &y); err != nil {
		return orb.Point{}, fmt.Errorf("geom: point: %w", err)
	}
	if !x.Valid || !y.Valid {
		return orb.Point{}, ErrEmptyGeometry
	}
	return orb.Point{x.Float64, y.Float64}, nil
}

// Projector returns a transformation through ST_Transform. The pair is
// checked against PROJ once so unknown systems fail here and not on the
// first feature.
func (e *DuckDB) Projector(from, to crs.CRS) (Projector, error) {
	if from.Equal(to) {
		return identity{}, nil
	}

	src, dst := from.String(), to.String()
	if src == "" || dst == "" {
		return nil, fmt.Errorf("%w: missing CRS", ErrUnsupportedProjection)
	}

	var probe string
	if err := e.db.QueryRowContext(context.Background(), probeQuery, src, dst).Scan(&probe); err != nil {
		return nil, fmt.Errorf("%w: %s to %s: %v", ErrUnsupportedProjection, from, to, err)
	}
	return &duckdbProjector{stmt: e.transform, from: src, to: dst}, nil
}

// Close releases prepared statements and the database.
func (e *DuckDB) Close() error {
	var errs []error
	for _, s := range []*sql.Stmt{e.envelope, e.centroid, e.surface, e.transform} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	errs = append(errs, e.db.Close())
	return errors.Join(errs...)
}

type duckdbProjector struct {
	stmt     *sql.Stmt
	from, to string
}

func (p *duckdbProjector) Project(ctx context.Context, g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGeometry, err)
	}

	var out []byte
	if err := p.stmt.QueryRowContext(ctx, data, p.from, p.to).Scan(&out); err != nil {
		return nil, fmt.Errorf("geom: transform %s to %s: %w", p.from, p.to, err)
	}
	return wkb.Unmarshal(out)
}
