package vector

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

var benchSchema = Schema{
	Geometry: Polygon,
	Fields: []Field{
		{Name: "id", Type: Integer},
		{Name: "name", Type: String},
		{Name: "value", Type: Float},
		{Name: "active", Type: Bool},
	},
}

// generatePolygons creates n roughly circular polygons with the given number
// of vertices and a row of attributes each.
func generatePolygons(r *rand.Rand, n, vertices int) []*geojson.Feature {
	features := make([]*geojson.Feature, n)
	for i := range features {
		cx := -170 + r.Float64()*340
		cy := -80 + r.Float64()*160
		radius := 0.01 + r.Float64()*0.05

		ring := make(orb.Ring, vertices+1)
		for j := 0; j < vertices; j++ {
			// clockwise
			angle := -2 * math.Pi * float64(j) / float64(vertices)
			ring[j] = orb.Point{cx + radius*math.Cos(angle), cy + radius*math.Sin(angle)}
		}
		ring[vertices] = ring[0]

		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties = geojson.Properties{
			"id":     i,
			"name":   fmt.Sprintf("Feature %d", i),
			"value":  r.Float64() * 1000,
			"active": r.Intn(2) == 1,
		}
		features[i] = f
	}
	return features
}

var benchDrivers = []struct {
	name string
	ext  string
}{
	{"shapefile", ".shp"},
	{"flatgeobuf", ".fgb"},
	{"geojson", ".geojson"},
	{"geoparquet", ".parquet"},
}

func writeBench(path string, features []*geojson.Feature) error {
	w, err := Create(path, "", benchSchema, crs.EPSG(crs.WGS84))
	if err != nil {
		return err
	}
	for _, f := range features {
		if err := w.Write(f); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func BenchmarkWrite(b *testing.B) {
	features := generatePolygons(rand.New(rand.NewSource(42)), 1000, 32)

	for _, d := range benchDrivers {
		b.Run(d.name, func(b *testing.B) {
			path := filepath.Join(b.TempDir(), "bench"+d.ext)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := writeBench(path, features); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkRead(b *testing.B) {
	features := generatePolygons(rand.New(rand.NewSource(42)), 1000, 32)

	for _, d := range benchDrivers {
		b.Run(d.name, func(b *testing.B) {
			path := filepath.Join(b.TempDir(), "bench"+d.ext)
			if err := writeBench(path, features); err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				r, err := Open(path)
				if err != nil {
					b.Fatal(err)
				}
				n := 0
				for {
					if _, err := r.Next(); err != nil {
						break
					}
					n++
				}
				r.Close()
				if n != len(features) {
					b.Fatalf("read %d features, want %d", n, len(features))
				}
			}
		})
	}
}

func TestSizeComparison(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping size comparison in short mode")
	}

	features := generatePolygons(rand.New(rand.NewSource(42)), 1000, 32)
	dir := t.TempDir()

	t.Logf("%-12s | %-12s", "Driver", "Size")
	t.Log("-------------|-------------")
	for _, d := range benchDrivers {
		path := filepath.Join(dir, "size"+d.ext)
		if err := writeBench(path, features); err != nil {
			t.Fatalf("%s: %v", d.name, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Logf("%-12s | %-12s", d.name, formatBytes(info.Size()))
	}
}

func formatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
