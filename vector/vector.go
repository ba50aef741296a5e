// Package vector provides format-agnostic access to vector datasets.
// A dataset is read as an ordered stream of geojson.Feature values and
// written through a driver that honours a declared Schema and CRS.
//
// Built-in drivers: ESRI Shapefile, FlatGeobuf, GeoJSON and GeoParquet.
package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

// Common errors returned by this package.
var (
	ErrUnknownDriver    = errors.New("vector: unknown driver")
	ErrGeometryMismatch = errors.New("vector: geometry does not match schema")
	ErrInvalidData      = errors.New("vector: invalid data")
	ErrDestinationIsDir = errors.New("vector: destination is a directory")
	ErrClosed           = errors.New("vector: dataset closed")
)

// GeometryType is the declared geometry type of a dataset.
type GeometryType string

// Geometry types.
const (
	Point              GeometryType = "Point"
	LineString         GeometryType = "LineString"
	Polygon            GeometryType = "Polygon"
	MultiPoint         GeometryType = "MultiPoint"
	MultiLineString    GeometryType = "MultiLineString"
	MultiPolygon       GeometryType = "MultiPolygon"
	GeometryCollection GeometryType = "GeometryCollection"
	Unknown            GeometryType = "Unknown"
)

// TypeOf returns the GeometryType of g.
func TypeOf(g orb.Geometry) GeometryType {
	switch g.(type) {
	case orb.Point:
		return Point
	case orb.MultiPoint:
		return MultiPoint
	case orb.LineString:
		return LineString
	case orb.MultiLineString:
		return MultiLineString
	case orb.Ring, orb.Polygon, orb.Bound:
		return Polygon
	case orb.MultiPolygon:
		return MultiPolygon
	case orb.Collection:
		return GeometryCollection
	default:
		return Unknown
	}
}

// Single returns the single-part variant of a multi geometry type.
func (t GeometryType) Single() GeometryType {
	switch t {
	case MultiPoint:
		return Point
	case MultiLineString:
		return LineString
	case MultiPolygon:
		return Polygon
	}
	return t
}

// Matches reports whether g may be stored in a dataset declaring t.
// A nil geometry always matches, and a multi geometry matches the declared
// single type and vice versa.
func (t GeometryType) Matches(g orb.Geometry) bool {
	if g == nil || t == Unknown || t == "" {
		return true
	}
	return TypeOf(g).Single() == t.Single()
}

// FieldType is the primitive type of an attribute.
type FieldType int

// Attribute types.
const (
	String FieldType = iota
	Integer
	Float
	Date
	Bool
)

var fieldTypeNames = [...]string{"str", "int", "float", "date", "bool"}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Field describes one attribute column.
type Field struct {
	Name      string
	Type      FieldType
	Width     int // 0 selects the driver default
	Precision int
}

// Schema is the ordered attribute layout plus declared geometry type.
type Schema struct {
	Geometry GeometryType
	Fields   []Field
}

// Clone returns a deep copy of s.
func (s Schema) Clone() Schema {
	out := Schema{Geometry: s.Geometry}
	if s.Fields != nil {
		out.Fields = make([]Field, len(s.Fields))
		copy(out.Fields, s.Fields)
	}
	return out
}

// WithGeometry returns a copy of s declaring geometry type g.
func (s Schema) WithGeometry(g GeometryType) Schema {
	out := s.Clone()
	out.Geometry = g
	return out
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named field or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks that field names are non-empty and unique.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidData)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidData, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// Reader streams features from an open dataset.
type Reader interface {
	Schema() Schema
	CRS() crs.CRS
	Driver() string
	// Next returns the next feature in dataset order, or io.EOF.
	Next() (*geojson.Feature, error)
	Close() error
}

// Writer appends features to a dataset being created. Close makes the
// dataset durable; a dataset is not complete until Close returns nil.
type Writer interface {
	Write(f *geojson.Feature) error
	Count() int
	Close() error
}

// Driver opens and creates datasets of one format.
type Driver interface {
	Name() string
	Extensions() []string
	Open(path string) (Reader, error)
	Create(path string, schema Schema, c crs.CRS) (Writer, error)
}

var (
	registryMu sync.RWMutex
	drivers    = map[string]Driver{}
	aliases    = map[string]string{
		"shp":        "esri shapefile",
		"shapefile":  "esri shapefile",
		"fgb":        "flatgeobuf",
		"json":       "geojson",
		"parquet":    "geoparquet",
		"geoparquet": "geoparquet",
	}
)

// Register makes a driver available by name and extension.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[strings.ToLower(d.Name())] = d
}

// Lookup returns the driver registered under name (case-insensitive).
func Lookup(name string) (Driver, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[key]; ok {
		key = a
	}

	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := drivers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// ForPath returns the driver handling the extension of path.
func ForPath(path string) (Driver, error) {
	ext := strings.ToLower(filepath.Ext(path))

	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, d := range drivers {
		for _, e := range d.Extensions() {
			if e == ext {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no driver for %q", ErrUnknownDriver, ext)
}

// Drivers returns all registered drivers sorted by name.
func Drivers() []Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Driver, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Open opens the dataset at path with the driver matching its extension.
func Open(path string) (Reader, error) {
	d, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	return d.Open(path)
}

// Create creates a dataset at path. An empty driver name selects the driver
// by extension. Existing files at path are replaced.
func Create(path, driver string, schema Schema, c crs.CRS) (Writer, error) {
	var (
		d   Driver
		err error
	)
	if driver == "" {
		d, err = ForPath(path)
	} else {
		d, err = Lookup(driver)
	}
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDestinationIsDir, path)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return d.Create(path, schema, c)
}

// SwapExt replaces the extension of path with the first extension of d.
func SwapExt(path string, d Driver) string {
	exts := d.Extensions()
	if len(exts) == 0 {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + exts[0]
}

func init() {
	Register(shapefileDriver{})
	Register(flatgeobufDriver{})
	Register(geojsonDriver{})
	Register(geoparquetDriver{})
}
