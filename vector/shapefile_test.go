package vector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

func TestShapefile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.shp")
	founded := time.Date(1624, 5, 24, 0, 0, 0, 0, time.UTC)

	a := geojson.NewFeature(square(0, 0, 10))
	a.Properties = geojson.Properties{"name": "A", "pop": 8400000, "area": 12.5, "founded": founded, "capital": false}
	b := geojson.NewFeature(square(20, 20, 5))
	b.Properties = geojson.Properties{"name": "B", "pop": nil, "area": 3.0, "capital": true}

	writeAll(t, path, "", citySchema(), crs.EPSG(4326), []*geojson.Feature{a, b})

	for _, ext := range []string{".shx", ".dbf", ".prj"} {
		if _, err := os.Stat(filepath.Join(filepath.Dir(path), "cities"+ext)); err != nil {
			t.Errorf("missing sidecar %s: %v", ext, err)
		}
	}

	schema, c, features := readAll(t, path)
	checkFields(t, schema, citySchema())
	if schema.Geometry != Polygon {
		t.Errorf("expected Polygon, got %s", schema.Geometry)
	}
	if c.Code != 4326 {
		t.Errorf("expected EPSG:4326 from .prj, got %s", c)
	}
	if len(features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(features))
	}

	poly, ok := features[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("expected orb.Polygon, got %T", features[0].Geometry)
	}
	if !poly.Equal(square(0, 0, 10)) {
		t.Errorf("geometry changed: %v", poly)
	}

	p := features[0].Properties
	if p["name"] != "A" || p["pop"] != int64(8400000) || p["area"] != 12.5 || p["capital"] != false {
		t.Errorf("unexpected properties %v", p)
	}
	if d, ok := p["founded"].(time.Time); !ok || !d.Equal(founded) {
		t.Errorf("expected founded %v, got %v", founded, p["founded"])
	}

	q := features[1].Properties
	if q["name"] != "B" || q["pop"] != nil || q["founded"] != nil || q["capital"] != true {
		t.Errorf("unexpected properties %v", q)
	}
}

func TestShapefile_RingOrientation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holes.shp")

	// counter-clockwise shell, clockwise hole
	shell := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	hole := orb.Ring{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}}
	f := geojson.NewFeature(orb.Polygon{shell, hole})

	writeAll(t, path, "", Schema{Geometry: Polygon}, crs.CRS{}, []*geojson.Feature{f})

	_, c, features := readAll(t, path)
	if !c.IsZero() {
		t.Errorf("expected unknown CRS without .prj, got %s", c)
	}

	poly, ok := features[0].Geometry.(orb.Polygon)
	if !ok || len(poly) != 2 {
		t.Fatalf("expected polygon with one hole, got %v", features[0].Geometry)
	}
	if poly[0].Orientation() != orb.CW {
		t.Error("shell should be stored clockwise")
	}
	if poly[1].Orientation() != orb.CCW {
		t.Error("hole should be stored counter-clockwise")
	}
	if poly.Bound() != shell.Bound() {
		t.Errorf("bound changed: %v", poly.Bound())
	}
}

func TestShapefile_MultiPolygonAndNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multi.shp")

	mp := orb.MultiPolygon{square(0, 0, 1), square(5, 5, 1)}
	features := []*geojson.Feature{
		geojson.NewFeature(mp),
		geojson.NewFeature(nil),
		geojson.NewFeature(square(9, 9, 1)),
	}
	writeAll(t, path, "", Schema{Geometry: MultiPolygon}, crs.CRS{}, features)

	_, _, got := readAll(t, path)
	if len(got) != 3 {
		t.Fatalf("expected 3 features, got %d", len(got))
	}
	if m, ok := got[0].Geometry.(orb.MultiPolygon); !ok || len(m) != 2 {
		t.Errorf("expected 2-part MultiPolygon, got %v", got[0].Geometry)
	}
	if got[1].Geometry != nil {
		t.Errorf("expected null geometry, got %v", got[1].Geometry)
	}
	if _, ok := got[2].Geometry.(orb.Polygon); !ok {
		t.Errorf("expected Polygon, got %T", got[2].Geometry)
	}
}

func TestShapefile_Points(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	schema := Schema{Geometry: Point, Fields: []Field{{Name: "id", Type: Integer}}}

	var features []*geojson.Feature
	for i := 0; i < 5; i++ {
		f := geojson.NewFeature(orb.Point{float64(i), float64(-i)})
		f.Properties["id"] = i
		features = append(features, f)
	}
	writeAll(t, path, "shapefile", schema, crs.EPSG(3857), features)

	_, c, got := readAll(t, path)
	if c.Code != 3857 {
		t.Errorf("expected EPSG:3857, got %s", c)
	}
	for i, f := range got {
		if f.Geometry != (orb.Point{float64(i), float64(-i)}) {
			t.Errorf("feature %d: unexpected geometry %v", i, f.Geometry)
		}
		if f.Properties["id"] != int64(i) {
			t.Errorf("feature %d: expected id %d, got %v", i, i, f.Properties["id"])
		}
	}
}

func TestShapefile_WriteErrors(t *testing.T) {
	dir := t.TempDir()

	w, err := Create(filepath.Join(dir, "pts.shp"), "", Schema{Geometry: Point}, crs.CRS{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer w.Close()

	if err := w.Write(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})); !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("expected ErrGeometryMismatch for a line, got %v", err)
	}
	if err := w.Write(geojson.NewFeature(nil)); !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("expected ErrGeometryMismatch for a null point, got %v", err)
	}

	long := Schema{Geometry: Point, Fields: []Field{{Name: "population_total", Type: Integer}}}
	if _, err := Create(filepath.Join(dir, "long.shp"), "", long, crs.CRS{}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData for a long field name, got %v", err)
	}

	if _, err := Create(filepath.Join(dir, "coll.shp"), "", Schema{Geometry: GeometryCollection}, crs.CRS{}); !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("expected ErrGeometryMismatch for a collection layer, got %v", err)
	}
}

func TestShapefile_MissingTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.shp")
	schema := Schema{Geometry: Point, Fields: []Field{{Name: "id", Type: Integer}}}
	f := geojson.NewFeature(orb.Point{1, 2})
	f.Properties["id"] = 1
	writeAll(t, path, "", schema, crs.CRS{}, []*geojson.Feature{f})

	if err := os.Remove(filepath.Join(dir, "bare.dbf")); err != nil {
		t.Fatal(err)
	}

	s, _, got := readAll(t, path)
	if len(s.Fields) != 0 {
		t.Errorf("expected no fields without .dbf, got %v", s.Names())
	}
	if len(got) != 1 || got[0].Geometry != (orb.Point{1, 2}) {
		t.Errorf("unexpected features %v", got)
	}
}

func TestShapefile_NotAShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.shp")
	if err := os.WriteFile(path, []byte("this is not a shapefile header at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.shp")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestFormatDBFValue_ShrinksPrecision(t *testing.T) {
	df, err := fieldToDBF(Field{Name: "v", Type: Float})
	if err != nil {
		t.Fatal(err)
	}

	s, err := formatDBFValue(123456789.125, Field{Name: "v", Type: Float}, df)
	if err != nil {
		t.Fatalf("formatDBFValue failed: %v", err)
	}
	if len(s) > dbfFloatWidth {
		t.Errorf("value %q wider than %d", s, dbfFloatWidth)
	}
	if s != "123456789.12500000000000" {
		t.Errorf("unexpected text %q", s)
	}
}

func TestDBFAttribute(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"A\x00\x00\x00", "A"},
		{"  7\x00\x00", "  7"},
		{"two words   ", "two words"},
		{"\x00\x00\x00", nil},
		{"     ", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := dbfAttribute(tt.in); got != tt.want {
			t.Errorf("dbfAttribute(%q) = %q, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShapefile_IntegerAndStringAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.shp")
	schema := Schema{
		Geometry: Point,
		Fields:   []Field{{Name: "id", Type: Integer}, {Name: "label", Type: String}},
	}
	f := geojson.NewFeature(orb.Point{1, 2})
	f.Properties = geojson.Properties{"id": 7, "label": "A"}

	writeAll(t, path, "", schema, crs.EPSG(4326), []*geojson.Feature{f})

	_, _, features := readAll(t, path)
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}
	p := features[0].Properties
	if p["id"] != int64(7) {
		t.Errorf("expected id 7, got %q (%T)", p["id"], p["id"])
	}
	if p["label"] != "A" {
		t.Errorf("expected label %q, got %q", "A", p["label"])
	}
}

func TestShapefile_PrjOutsideRegistry(t *testing.T) {
	tests := []struct {
		name string
		crs  crs.CRS
	}{
		{"epsg code", crs.EPSG(32633)},
		{"proj string", crs.CRS{Raw: "+proj=utm +zone=33 +datum=WGS84"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "utm.shp")
			writeAll(t, path, "", Schema{Geometry: Point}, tt.crs, []*geojson.Feature{geojson.NewFeature(orb.Point{500000, 0})})

			_, c, _ := readAll(t, path)
			if !c.Equal(tt.crs) {
				t.Errorf("expected %s, got %q", tt.crs, c)
			}
		})
	}
}
