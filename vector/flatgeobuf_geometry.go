package vector

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

var fgbGeometryTypes = map[GeometryType]flattypes.GeometryType{
	Point:              flattypes.GeometryTypePoint,
	LineString:         flattypes.GeometryTypeLineString,
	Polygon:            flattypes.GeometryTypePolygon,
	MultiPoint:         flattypes.GeometryTypeMultiPoint,
	MultiLineString:    flattypes.GeometryTypeMultiLineString,
	MultiPolygon:       flattypes.GeometryTypeMultiPolygon,
	GeometryCollection: flattypes.GeometryTypeGeometryCollection,
}

func toFGBGeometryType(t GeometryType) flattypes.GeometryType {
	if ft, ok := fgbGeometryTypes[t]; ok {
		return ft
	}
	return flattypes.GeometryTypeUnknown
}

func fromFGBGeometryType(ft flattypes.GeometryType) GeometryType {
	for t, v := range fgbGeometryTypes {
		if v == ft {
			return t
		}
	}
	return Unknown
}

// encodeFGBGeometry converts g into a FlatGeobuf geometry table. Rings and
// bounds are stored as polygons. It returns nil for nil or unsupported input.
func encodeFGBGeometry(g orb.Geometry, b *flatbuffers.Builder) *writer.Geometry {
	if g == nil {
		return nil
	}

	out := writer.NewGeometry(b)
	switch v := g.(type) {
	case orb.Point:
		out.SetType(flattypes.GeometryTypePoint)
		out.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		out.SetType(flattypes.GeometryTypeMultiPoint)
		out.SetXY(flatXY(v))

	case orb.LineString:
		out.SetType(flattypes.GeometryTypeLineString)
		out.SetXY(flatXY(v))

	case orb.MultiLineString:
		out.SetType(flattypes.GeometryTypeMultiLineString)
		xy, ends := flatParts(v)
		out.SetXY(xy)
		out.SetEnds(ends)

	case orb.Ring:
		return encodeFGBGeometry(orb.Polygon{v}, b)

	case orb.Bound:
		return encodeFGBGeometry(v.ToPolygon(), b)

	case orb.Polygon:
		out.SetType(flattypes.GeometryTypePolygon)
		xy, ends := flatParts(v)
		out.SetXY(xy)
		out.SetEnds(ends)

	case orb.MultiPolygon:
		out.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			if p := encodeFGBGeometry(poly, b); p != nil {
				parts = append(parts, *p)
			}
		}
		out.SetParts(parts)

	case orb.Collection:
		out.SetType(flattypes.GeometryTypeGeometryCollection)
		parts := make([]writer.Geometry, 0, len(v))
		for _, child := range v {
			if p := encodeFGBGeometry(child, b); p != nil {
				parts = append(parts, *p)
			}
		}
		out.SetParts(parts)

	default:
		return nil
	}

	return out
}

func flatXY[T ~[]orb.Point](pts T) []float64 {
	xy := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

// flatParts flattens rings or lines into one xy array plus cumulative ends.
func flatParts[P ~[]orb.Point, T ~[]P](parts T) ([]float64, []uint32) {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	xy := make([]float64, 0, n*2)
	ends := make([]uint32, 0, len(parts))
	for _, p := range parts {
		xy = append(xy, flatXY(p)...)
		ends = append(ends, uint32(len(xy)/2))
	}
	return xy, ends
}

// decodeFGBGeometry converts a geometry table to orb. Producers may leave the
// per-feature type unset when the header declares one; fallback covers that.
func decodeFGBGeometry(g *flattypes.Geometry, fallback flattypes.GeometryType) orb.Geometry {
	if g == nil {
		return nil
	}

	t := g.Type()
	if t == flattypes.GeometryTypeUnknown {
		t = fallback
	}

	switch t {
	case flattypes.GeometryTypePoint:
		pts := readXY(g, 0, g.XyLength()/2)
		if len(pts) == 0 {
			return nil
		}
		return pts[0]

	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(readXY(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeLineString:
		return orb.LineString(readXY(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeMultiLineString:
		parts := readParts(g)
		mls := make(orb.MultiLineString, len(parts))
		for i, p := range parts {
			mls[i] = orb.LineString(p)
		}
		return mls

	case flattypes.GeometryTypePolygon:
		return polygonFromFGB(g)

	case flattypes.GeometryTypeMultiPolygon:
		n := g.PartsLength()
		if n == 0 {
			return orb.MultiPolygon{polygonFromFGB(g)}
		}
		mp := make(orb.MultiPolygon, 0, n)
		for i := 0; i < n; i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				mp = append(mp, polygonFromFGB(&part))
			}
		}
		return mp

	case flattypes.GeometryTypeGeometryCollection:
		n := g.PartsLength()
		coll := make(orb.Collection, 0, n)
		for i := 0; i < n; i++ {
			var part flattypes.Geometry
			if !g.Parts(&part, i) {
				continue
			}
			if child := decodeFGBGeometry(&part, flattypes.GeometryTypeUnknown); child != nil {
				coll = append(coll, child)
			}
		}
		return coll
	}

	return nil
}

func polygonFromFGB(g *flattypes.Geometry) orb.Polygon {
	parts := readParts(g)
	poly := make(orb.Polygon, len(parts))
	for i, p := range parts {
		poly[i] = orb.Ring(p)
	}
	return poly
}

// readXY returns points [from, to) of the xy array.
func readXY(g *flattypes.Geometry, from, to int) []orb.Point {
	if to > g.XyLength()/2 {
		to = g.XyLength() / 2
	}
	if from >= to {
		return nil
	}
	pts := make([]orb.Point, 0, to-from)
	for i := from; i < to; i++ {
		pts = append(pts, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return pts
}

// readParts splits the xy array at the ends offsets. Without ends the whole
// array is one part.
func readParts(g *flattypes.Geometry) [][]orb.Point {
	n := g.EndsLength()
	if n == 0 {
		if pts := readXY(g, 0, g.XyLength()/2); len(pts) > 0 {
			return [][]orb.Point{pts}
		}
		return nil
	}

	parts := make([][]orb.Point, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		end := int(g.Ends(i))
		parts = append(parts, readXY(g, start, end))
		start = end
	}
	return parts
}
