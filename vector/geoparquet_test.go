package vector

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

func TestGeoParquet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.parquet")
	founded := time.Date(1624, 5, 24, 0, 0, 0, 0, time.UTC)

	var features []*geojson.Feature
	for i := 0; i < geoparquetBatch+10; i++ {
		f := geojson.NewFeature(square(float64(i), 0, 1))
		f.Properties = geojson.Properties{"name": "c", "pop": i, "area": 1.5, "founded": founded, "capital": i%2 == 0}
		features = append(features, f)
	}
	features[3].Geometry = nil
	features[4].Properties["pop"] = nil

	writeAll(t, path, "", citySchema(), crs.EPSG(4326), features)

	schema, c, got := readAll(t, path)
	checkFields(t, schema, citySchema())
	if schema.Geometry != Polygon {
		t.Errorf("expected Polygon, got %s", schema.Geometry)
	}
	if c.Code != 4326 {
		t.Errorf("expected EPSG:4326, got %s", c)
	}
	if len(got) != len(features) {
		t.Fatalf("expected %d features, got %d", len(features), len(got))
	}

	for i, f := range got {
		if i == 3 {
			if f.Geometry != nil {
				t.Errorf("feature 3: expected null geometry, got %v", f.Geometry)
			}
			continue
		}
		if !orb.Equal(f.Geometry, square(float64(i), 0, 1)) {
			t.Errorf("feature %d: geometry changed: %v", i, f.Geometry)
		}
		want := interface{}(int64(i))
		if i == 4 {
			want = nil
		}
		if f.Properties["pop"] != want {
			t.Errorf("feature %d: expected pop %v, got %v", i, want, f.Properties["pop"])
		}
	}

	p := got[0].Properties
	if p["name"] != "c" || p["area"] != 1.5 || p["capital"] != true {
		t.Errorf("unexpected properties %v", p)
	}
	if d, ok := p["founded"].(time.Time); !ok || !d.Equal(founded) {
		t.Errorf("expected founded %v, got %v", founded, p["founded"])
	}
}

func TestGeoParquet_GeoMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.parquet")
	features := []*geojson.Feature{
		geojson.NewFeature(orb.Point{1, 2}),
		geojson.NewFeature(orb.Point{-3, 4}),
	}
	writeAll(t, path, "", Schema{Geometry: Point}, crs.EPSG(3857), features)

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("OpenParquetFile failed: %v", err)
	}
	defer pf.Close()

	raw := pf.MetaData().KeyValueMetadata().FindValue(geoMetadataKey)
	if raw == nil {
		t.Fatal("missing geo metadata")
	}

	var meta geoMetadata
	if err := json.Unmarshal([]byte(*raw), &meta); err != nil {
		t.Fatalf("bad geo metadata: %v", err)
	}
	if meta.Version != geoparquetVersion || meta.PrimaryColumn != geometryColumn {
		t.Errorf("unexpected metadata %+v", meta)
	}

	col := meta.Columns[geometryColumn]
	if col.Encoding != "WKB" {
		t.Errorf("expected WKB encoding, got %q", col.Encoding)
	}
	if len(col.GeometryTypes) != 1 || col.GeometryTypes[0] != "Point" {
		t.Errorf("expected [Point], got %v", col.GeometryTypes)
	}
	if want := []float64{-3, 2, 1, 4}; len(col.BBox) != 4 || col.BBox[0] != want[0] || col.BBox[1] != want[1] || col.BBox[2] != want[2] || col.BBox[3] != want[3] {
		t.Errorf("expected bbox %v, got %v", want, col.BBox)
	}
	if c := crsFromProjJSON(col.CRS); c.Code != 3857 {
		t.Errorf("expected EPSG:3857 in projjson, got %s", c)
	}
}

func TestCrsFromProjJSON(t *testing.T) {
	if c := crsFromProjJSON(nil); c.Code != crs.WGS84 {
		t.Errorf("missing crs should mean OGC:CRS84, got %s", c)
	}
	if c := crsFromProjJSON(json.RawMessage("null")); !c.IsZero() {
		t.Errorf("null crs should be undefined, got %s", c)
	}
	if c := crsFromProjJSON(json.RawMessage(`{"id":{"authority":"EPSG","code":4269}}`)); c.Code != 4269 {
		t.Errorf("expected EPSG:4269, got %s", c)
	}
}
