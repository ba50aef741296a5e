// Command cities builds a small polygon dataset of world city footprints and
// runs every bigeo operation over it.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo"
	"github.com/tingold/bigeo/crs"
	"github.com/tingold/bigeo/internal/logger"
	"github.com/tingold/bigeo/vector"
)

type City struct {
	Name       string
	Country    string
	Longitude  float64
	Latitude   float64
	Population int
	Capital    bool
}

var cities = []City{
	{"Tokyo", "Japan", 139.6917, 35.6895, 13960000, true},
	{"New York", "United States", -73.9857, 40.7484, 8336817, false},
	{"London", "United Kingdom", -0.1276, 51.5074, 8982000, true},
	{"Paris", "France", 2.3522, 48.8566, 2161000, true},
	{"Beijing", "China", 116.4074, 39.9042, 21540000, true},
	{"Moscow", "Russia", 37.6173, 55.7558, 12615000, true},
	{"São Paulo", "Brazil", -46.6333, -23.5505, 12300000, false},
	{"Mumbai", "India", 72.8777, 19.0760, 12400000, false},
	{"Los Angeles", "United States", -118.2437, 34.0522, 3971883, false},
	{"Shanghai", "China", 121.4737, 31.2304, 24870000, false},
	{"Istanbul", "Turkey", 28.9784, 41.0082, 15520000, false},
	{"Buenos Aires", "Argentina", -58.3816, -34.6037, 3075646, true},
	{"Cairo", "Egypt", 31.2357, 30.0444, 10230000, true},
	{"Sydney", "Australia", 151.2093, -33.8688, 5312000, false},
	{"Berlin", "Germany", 13.4050, 52.5200, 3669491, true},
}

var citySchema = vector.Schema{
	Geometry: vector.Polygon,
	Fields: []vector.Field{
		{Name: "name", Type: vector.String},
		{Name: "country", Type: vector.String},
		{Name: "population", Type: vector.Integer},
		{Name: "capital", Type: vector.Bool},
	},
}

// footprint is a square around the city whose size grows with population.
func footprint(c City) orb.Polygon {
	half := 0.05 + float64(c.Population)/100_000_000
	x, y := c.Longitude, c.Latitude
	return orb.Polygon{{
		{x - half, y - half},
		{x - half, y + half},
		{x + half, y + half},
		{x + half, y - half},
		{x - half, y - half},
	}}
}

func main() {
	out := flag.String("out", "cities_out", "output directory")
	flag.Parse()

	log, err := logger.New(logger.Options{Format: logger.FormatText})
	if err != nil {
		panic(err)
	}

	src := filepath.Join(*out, "source")
	if err := os.MkdirAll(src, 0o755); err != nil {
		log.Error("Failed to create output directory", "error", err)
		os.Exit(1)
	}

	for _, name := range []string{"world_cities.shp", "world_cities.fgb"} {
		if err := writeCities(filepath.Join(src, name)); err != nil {
			log.Error("Failed to write cities", "path", name, "error", err)
			os.Exit(1)
		}
	}
	log.Info("Wrote source datasets", "dir", src, "cities", len(cities))

	ctx := context.Background()
	opts := bigeo.DefaultOptions()
	opts.Observer = bigeo.LogObserver(log)

	shp := filepath.Join(src, "world_cities.shp")
	steps := []struct {
		op  bigeo.Operation
		dst string
	}{
		{bigeo.BoundingBox, filepath.Join(*out, "bbox.shp")},
		{bigeo.Centroid, filepath.Join(*out, "centroids.shp")},
		{bigeo.RepresentativePoint, filepath.Join(*out, "points.shp")},
	}
	for _, s := range steps {
		if err := bigeo.Run(ctx, bigeo.Transform{Op: s.op}, []string{shp}, s.dst, opts); err != nil {
			log.Error("Operation failed", "operation", s.op, "error", err)
			os.Exit(1)
		}
	}

	fgb := opts
	fgb.Extension = ".fgb"
	if err := bigeo.ReprojectDir(ctx, src, filepath.Join(*out, "mercator"), "EPSG:3857", fgb); err != nil {
		log.Error("Reprojection failed", "error", err)
		os.Exit(1)
	}
	log.Info("Demo complete", "dir", *out)
}

func writeCities(path string) error {
	w, err := vector.Create(path, "", citySchema, crs.EPSG(crs.WGS84))
	if err != nil {
		return err
	}

	for _, city := range cities {
		f := geojson.NewFeature(footprint(city))
		f.Properties = geojson.Properties{
			"name":       city.Name,
			"country":    city.Country,
			"population": city.Population,
			"capital":    city.Capital,
		}
		if err := w.Write(f); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
