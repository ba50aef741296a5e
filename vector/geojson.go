package vector

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

const geojsonName = "GeoJSON"

// schemaMember is the foreign member recording the declared schema, so field
// order and types survive a round trip.
const schemaMember = "schema"

type geojsonDriver struct{}

func (geojsonDriver) Name() string         { return geojsonName }
func (geojsonDriver) Extensions() []string { return []string{".geojson", ".json"} }

// Open reads a GeoJSON FeatureCollection. Without a recorded schema, fields
// are inferred from the property values and sorted by name. The CRS comes
// from a "crs" member and defaults to EPSG:4326.
func (geojsonDriver) Open(path string) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	r := &geojsonReader{features: fc.Features, crs: crs.EPSG(crs.WGS84)}

	if s, ok := recordedSchema(fc.ExtraMembers[schemaMember]); ok {
		r.schema = s
	} else {
		r.schema = inferSchema(fc.Features)
	}

	if c, ok := namedCRS(fc.ExtraMembers["crs"]); ok {
		r.crs = c
	}

	for _, f := range r.features {
		props := make(geojson.Properties, len(r.schema.Fields))
		for _, field := range r.schema.Fields {
			v, err := Normalize(f.Properties[field.Name], field.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field.Name, err)
			}
			props[field.Name] = v
		}
		f.Properties = props
	}

	return r, nil
}

func (geojsonDriver) Create(path string, schema Schema, c crs.CRS) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &geojsonWriter{f: f, schema: schema.Clone(), crs: c, fc: geojson.NewFeatureCollection()}, nil
}

func inferSchema(features []*geojson.Feature) Schema {
	var s Schema
	types := map[string]FieldType{}
	for _, f := range features {
		if f.Geometry != nil && s.Geometry == "" {
			s.Geometry = TypeOf(f.Geometry)
		} else if f.Geometry != nil && TypeOf(f.Geometry).Single() != s.Geometry.Single() {
			s.Geometry = Unknown
		}

		for name, v := range f.Properties {
			t, seen := types[name]
			if v == nil {
				if !seen {
					types[name] = -1
				}
				continue
			}
			if !seen || t < 0 {
				types[name] = inferFieldType(v)
			} else {
				types[name] = promoteFieldType(t, inferFieldType(v))
			}
		}
	}

	if s.Geometry == "" {
		s.Geometry = Unknown
	}

	for name, t := range types {
		if t < 0 {
			t = String
		}
		s.Fields = append(s.Fields, Field{Name: name, Type: t})
	}
	sort.Slice(s.Fields, func(i, j int) bool { return s.Fields[i].Name < s.Fields[j].Name })
	return s
}

type schemaJSON struct {
	Geometry GeometryType `json:"geometry"`
	Fields   []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

func recordedSchema(member interface{}) (Schema, bool) {
	if member == nil {
		return Schema{}, false
	}
	b, err := json.Marshal(member)
	if err != nil {
		return Schema{}, false
	}
	var sj schemaJSON
	if err := json.Unmarshal(b, &sj); err != nil {
		return Schema{}, false
	}

	s := Schema{Geometry: sj.Geometry}
	if s.Geometry == "" {
		s.Geometry = Unknown
	}
	for _, f := range sj.Fields {
		t, ok := parseFieldType(f.Type)
		if !ok || f.Name == "" {
			return Schema{}, false
		}
		s.Fields = append(s.Fields, Field{Name: f.Name, Type: t})
	}
	return s, s.Validate() == nil
}

func parseFieldType(s string) (FieldType, bool) {
	for i, name := range fieldTypeNames {
		if name == s {
			return FieldType(i), true
		}
	}
	return String, false
}

// namedCRS reads the legacy {"type":"name","properties":{"name":...}} member.
func namedCRS(member interface{}) (crs.CRS, bool) {
	m, ok := member.(map[string]interface{})
	if !ok {
		return crs.CRS{}, false
	}
	props, ok := m["properties"].(map[string]interface{})
	if !ok {
		return crs.CRS{}, false
	}
	name, ok := props["name"].(string)
	if !ok {
		return crs.CRS{}, false
	}
	c, err := crs.Parse(name)
	if err != nil {
		return crs.CRS{}, false
	}
	return c, true
}

type geojsonReader struct {
	features []*geojson.Feature
	next     int
	schema   Schema
	crs      crs.CRS
	closed   bool
}

func (r *geojsonReader) Schema() Schema { return r.schema.Clone() }
func (r *geojsonReader) CRS() crs.CRS   { return r.crs }
func (r *geojsonReader) Driver() string { return geojsonName }

func (r *geojsonReader) Next() (*geojson.Feature, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.next >= len(r.features) {
		return nil, io.EOF
	}
	f := r.features[r.next]
	r.next++
	return f, nil
}

func (r *geojsonReader) Close() error {
	r.closed = true
	r.features = nil
	return nil
}

type geojsonWriter struct {
	f      *os.File
	schema Schema
	crs    crs.CRS
	fc     *geojson.FeatureCollection
	closed bool
}

func (w *geojsonWriter) Count() int { return len(w.fc.Features) }

func (w *geojsonWriter) Write(f *geojson.Feature) error {
	if w.closed {
		return ErrClosed
	}
	if f == nil {
		return fmt.Errorf("%w: nil feature", ErrInvalidData)
	}
	if !w.schema.Geometry.Matches(f.Geometry) {
		return fmt.Errorf("%w: %s in %s collection", ErrGeometryMismatch, TypeOf(f.Geometry), w.schema.Geometry)
	}

	out := geojson.NewFeature(f.Geometry)
	out.ID = f.ID
	for _, field := range w.schema.Fields {
		v, err := Normalize(f.Properties[field.Name], field.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", field.Name, err)
		}
		if field.Type == Date && v != nil {
			v = toString(v)
		}
		out.Properties[field.Name] = v
	}

	w.fc.Append(out)
	return nil
}

func (w *geojsonWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	sj := schemaJSON{Geometry: w.schema.Geometry}
	for _, f := range w.schema.Fields {
		sj.Fields = append(sj.Fields, struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}{f.Name, f.Type.String()})
	}

	w.fc.ExtraMembers = geojson.Properties{schemaMember: sj}
	// EPSG:4326 is the RFC 7946 default and is left implicit
	if name := w.crs.Identifier(); name != "" && w.crs.Code != crs.WGS84 {
		w.fc.ExtraMembers["crs"] = map[string]interface{}{
			"type":       "name",
			"properties": map[string]interface{}{"name": name},
		}
	}

	data, err := json.Marshal(w.fc)
	if err != nil {
		w.f.Close()
		return err
	}
	if _, err := w.f.Write(data); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
