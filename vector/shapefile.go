package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/tingold/bigeo/crs"
)

const (
	shapefileName     = "ESRI Shapefile"
	shapefileFileCode = 9994
	dbfMaxName        = 10
	dbfStringWidth    = 254
	dbfIntegerWidth   = 18
	dbfFloatWidth     = 24
	dbfFloatPrecision = 15
)

type shapefileDriver struct{}

func (shapefileDriver) Name() string         { return shapefileName }
func (shapefileDriver) Extensions() []string { return []string{".shp"} }

// Open opens a shapefile for reading. The .dbf table is optional; the CRS is
// taken from the .prj sidecar when present.
func (shapefileDriver) Open(path string) (Reader, error) {
	if err := checkShapefileHeader(path); err != nil {
		return nil, err
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	sr := &shapefileReader{r: r}
	sr.schema.Geometry = shapeGeometryType(r.GeometryType)

	if _, err := os.Stat(base + ".dbf"); err == nil {
		sr.hasTable = true
		for _, f := range r.Fields() {
			sr.schema.Fields = append(sr.schema.Fields, fieldFromDBF(f))
		}
	}

	if b, err := os.ReadFile(base + ".prj"); err == nil {
		c, perr := crs.FromWKT(string(b))
		if perr != nil {
			c = crs.CRS{Raw: strings.TrimSpace(string(b))}
		}
		sr.crs = c
	}

	return sr, nil
}

// Create creates a shapefile. Field names longer than ten bytes cannot be
// represented in the .dbf table and are rejected.
func (shapefileDriver) Create(path string, schema Schema, c crs.CRS) (Writer, error) {
	st, err := shapeTypeFor(schema.Geometry)
	if err != nil {
		return nil, err
	}

	fields := make([]shp.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		df, err := fieldToDBF(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, df)
	}

	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		path += ".shp"
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".prj", ".cpg"} {
		if err := os.Remove(base + ext); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	w, err := shp.Create(path, st)
	if err != nil {
		return nil, err
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, err
	}

	return &shapefileWriter{
		w:         w,
		base:      base,
		schema:    schema.Clone(),
		fields:    fields,
		shapeType: st,
		crs:       c,
	}, nil
}

func checkShapefileHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var code int32
	if err := binary.Read(f, binary.BigEndian, &code); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidData, path, err)
	}
	if code != shapefileFileCode {
		return fmt.Errorf("%w: %s is not a shapefile", ErrInvalidData, path)
	}
	return nil
}

type shapefileReader struct {
	r        *shp.Reader
	schema   Schema
	crs      crs.CRS
	hasTable bool
	closed   bool
}

func (r *shapefileReader) Schema() Schema { return r.schema.Clone() }
func (r *shapefileReader) CRS() crs.CRS   { return r.crs }
func (r *shapefileReader) Driver() string { return shapefileName }

func (r *shapefileReader) Next() (*geojson.Feature, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if !r.r.Next() {
		if err := r.r.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	row, shape := r.r.Shape()
	feature := geojson.NewFeature(geometryFromShape(shape))

	if r.hasTable {
		for i, f := range r.schema.Fields {
			v, err := Normalize(dbfAttribute(r.r.ReadAttribute(row, i)), f.Type)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", row, f.Name, err)
			}
			if v == nil && f.Type == String {
				v = ""
			}
			feature.Properties[f.Name] = v
		}
	}

	return feature, nil
}

// dbfAttribute strips the NUL and blank padding go-shp leaves on DBF
// values. A blank value is nil.
func dbfAttribute(s string) interface{} {
	s = strings.TrimRight(s, "\x00 ")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func (r *shapefileReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.r.Close()
}

type shapefileWriter struct {
	w         *shp.Writer
	base      string
	schema    Schema
	fields    []shp.Field
	shapeType shp.ShapeType
	crs       crs.CRS
	count     int
	closed    bool
}

func (w *shapefileWriter) Count() int { return w.count }

func (w *shapefileWriter) Write(f *geojson.Feature) error {
	if w.closed {
		return ErrClosed
	}
	if f == nil {
		return fmt.Errorf("%w: nil feature", ErrInvalidData)
	}
	if !w.schema.Geometry.Matches(f.Geometry) {
		return fmt.Errorf("%w: %s in %s shapefile", ErrGeometryMismatch, TypeOf(f.Geometry), w.schema.Geometry)
	}

	shape, err := geometryToShape(f.Geometry, w.shapeType)
	if err != nil {
		return err
	}

	// Encode attributes before touching the files so a bad value does not
	// leave a half-written record behind.
	values := make([]string, len(w.schema.Fields))
	for i, fld := range w.schema.Fields {
		v, ok := f.Properties[fld.Name]
		if !ok || v == nil {
			continue
		}
		s, err := formatDBFValue(v, fld, w.fields[i])
		if err != nil {
			return fmt.Errorf("field %q: %w", fld.Name, err)
		}
		values[i] = s
	}

	row := int(w.w.Write(shape))
	for i, s := range values {
		if s == "" {
			continue
		}
		if err := w.w.WriteAttribute(row, i, s); err != nil {
			return fmt.Errorf("field %q: %w", w.schema.Fields[i].Name, err)
		}
	}

	w.count++
	return nil
}

func (w *shapefileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.w.Close()

	// go-shp v0.1.x names the attribute table <base>dbf.
	if _, err := os.Stat(w.base + "dbf"); err == nil {
		if err := os.Rename(w.base+"dbf", w.base+".dbf"); err != nil {
			return err
		}
	}
	if _, err := os.Stat(w.base + ".shp"); err != nil {
		return err
	}

	if prj := w.crs.PRJ(); prj != "" {
		if err := os.WriteFile(w.base+".prj", []byte(prj), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func shapeGeometryType(t shp.ShapeType) GeometryType {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return Point
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return LineString
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return Polygon
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return MultiPoint
	default:
		return Unknown
	}
}

func shapeTypeFor(g GeometryType) (shp.ShapeType, error) {
	switch g {
	case Point:
		return shp.POINT, nil
	case LineString, MultiLineString:
		return shp.POLYLINE, nil
	case Polygon, MultiPolygon:
		return shp.POLYGON, nil
	case MultiPoint:
		return shp.MULTIPOINT, nil
	default:
		return shp.NULL, fmt.Errorf("%w: shapefiles cannot store %s", ErrGeometryMismatch, g)
	}
}

func fieldFromDBF(f shp.Field) Field {
	out := Field{Name: f.String(), Width: int(f.Size), Precision: int(f.Precision)}
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			out.Type = Integer
		} else {
			out.Type = Float
		}
	case 'F', 'O':
		out.Type = Float
	case 'D':
		out.Type = Date
	case 'L':
		out.Type = Bool
	default:
		out.Type = String
	}
	return out
}

func fieldToDBF(f Field) (shp.Field, error) {
	if len(f.Name) > dbfMaxName {
		return shp.Field{}, fmt.Errorf("%w: field name %q longer than %d bytes", ErrInvalidData, f.Name, dbfMaxName)
	}

	width := func(def int) uint8 {
		if f.Width > 0 && f.Width <= 254 {
			return uint8(f.Width)
		}
		return uint8(def)
	}

	switch f.Type {
	case Integer:
		return shp.NumberField(f.Name, width(dbfIntegerWidth)), nil
	case Float:
		prec := f.Precision
		if prec <= 0 || prec > 254 {
			prec = dbfFloatPrecision
		}
		return shp.FloatField(f.Name, width(dbfFloatWidth), uint8(prec)), nil
	case Date:
		return shp.DateField(f.Name), nil
	case Bool:
		field := shp.Field{Fieldtype: 'L', Size: 1}
		copy(field.Name[:], f.Name)
		return field, nil
	default:
		return shp.StringField(f.Name, width(dbfStringWidth)), nil
	}
}

// formatDBFValue renders v as the fixed-width text stored in the table.
func formatDBFValue(v interface{}, f Field, df shp.Field) (string, error) {
	n, err := Normalize(v, f.Type)
	if err != nil || n == nil {
		return "", err
	}

	var s string
	switch val := n.(type) {
	case int64:
		s = strconv.FormatInt(val, 10)
	case float64:
		// Drop precision until the value fits the column.
		for prec := int(df.Precision); prec >= 0; prec-- {
			s = strconv.FormatFloat(val, 'f', prec, 64)
			if len(s) <= int(df.Size) {
				break
			}
		}
	case time.Time:
		s = val.Format("20060102")
	case bool:
		s = "F"
		if val {
			s = "T"
		}
	case string:
		s = val
	}

	if len(s) > int(df.Size) {
		return "", fmt.Errorf("%w: %q exceeds field width %d", ErrInvalidData, s, df.Size)
	}
	return s, nil
}

// geometryFromShape converts a shapefile record to an orb geometry.
// Empty records and Null shapes become nil.
func geometryFromShape(s shp.Shape) orb.Geometry {
	switch v := s.(type) {
	case *shp.Point:
		return orb.Point{v.X, v.Y}
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}
	case *shp.PointM:
		return orb.Point{v.X, v.Y}
	case *shp.MultiPoint:
		return multiPointFromShp(v.Points)
	case *shp.MultiPointZ:
		return multiPointFromShp(v.Points)
	case *shp.MultiPointM:
		return multiPointFromShp(v.Points)
	case *shp.PolyLine:
		return lineFromParts(v.Parts, v.Points)
	case *shp.PolyLineZ:
		return lineFromParts(v.Parts, v.Points)
	case *shp.PolyLineM:
		return lineFromParts(v.Parts, v.Points)
	case *shp.Polygon:
		return polygonFromParts(v.Parts, v.Points)
	case *shp.PolygonZ:
		return polygonFromParts(v.Parts, v.Points)
	case *shp.PolygonM:
		return polygonFromParts(v.Parts, v.Points)
	default:
		return nil
	}
}

func multiPointFromShp(points []shp.Point) orb.Geometry {
	if len(points) == 0 {
		return nil
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			break
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lineFromParts(parts []int32, points []shp.Point) orb.Geometry {
	split := splitParts(parts, points)
	switch len(split) {
	case 0:
		return nil
	case 1:
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = orb.LineString(p)
	}
	return mls
}

// polygonFromParts groups rings into polygons: clockwise rings are shells and
// counter-clockwise rings are holes of the shell that contains them.
func polygonFromParts(parts []int32, points []shp.Point) orb.Geometry {
	var shells []orb.Polygon
	for _, p := range splitParts(parts, points) {
		ring := orb.Ring(p)
		if len(ring) == 0 {
			continue
		}
		if ring.Orientation() != orb.CCW || len(shells) == 0 {
			shells = append(shells, orb.Polygon{ring})
			continue
		}

		owner := len(shells) - 1
		for i := len(shells) - 1; i >= 0; i-- {
			if planar.RingContains(shells[i][0], ring[0]) {
				owner = i
				break
			}
		}
		shells[owner] = append(shells[owner], ring)
	}

	switch len(shells) {
	case 0:
		return nil
	case 1:
		return shells[0]
	}
	return orb.MultiPolygon(shells)
}

func geometryToShape(g orb.Geometry, st shp.ShapeType) (shp.Shape, error) {
	if g == nil {
		switch st {
		case shp.POLYLINE:
			return &shp.PolyLine{}, nil
		case shp.POLYGON:
			return &shp.Polygon{}, nil
		case shp.MULTIPOINT:
			return &shp.MultiPoint{}, nil
		}
		return nil, fmt.Errorf("%w: null geometry in point shapefile", ErrGeometryMismatch)
	}

	switch v := g.(type) {
	case orb.Point:
		return &shp.Point{X: v[0], Y: v[1]}, nil

	case orb.MultiPoint:
		pts := toShpPoints(v)
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}, nil

	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{toShpPoints(v)}), nil

	case orb.MultiLineString:
		parts := make([][]shp.Point, len(v))
		for i, ls := range v {
			parts[i] = toShpPoints(ls)
		}
		return shp.NewPolyLine(parts), nil

	case orb.Ring:
		return polygonShape(orb.MultiPolygon{{v}}), nil

	case orb.Polygon:
		return polygonShape(orb.MultiPolygon{v}), nil

	case orb.MultiPolygon:
		return polygonShape(v), nil

	case orb.Bound:
		return polygonShape(orb.MultiPolygon{v.ToPolygon()}), nil
	}

	return nil, fmt.Errorf("%w: %T", ErrGeometryMismatch, g)
}

// polygonShape writes shells clockwise and holes counter-clockwise, closing
// rings where needed.
func polygonShape(mp orb.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for _, poly := range mp {
		for i, ring := range poly {
			if len(ring) == 0 {
				continue
			}
			r := ring.Clone()
			if !r.Closed() {
				r = append(r, r[0])
			}
			want := orb.CCW
			if i == 0 {
				want = orb.CW
			}
			if o := r.Orientation(); o != 0 && o != want {
				r.Reverse()
			}
			parts = append(parts, toShpPoints(r))
		}
	}
	return (*shp.Polygon)(shp.NewPolyLine(parts))
}

func toShpPoints[T ~[]orb.Point](pts T) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}
