package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

const (
	geoparquetName    = "GeoParquet"
	geoMetadataKey    = "geo"
	geomTypeKey       = "bigeo:geometry_type"
	crsKey            = "bigeo:crs"
	geometryColumn    = "geometry"
	geoparquetBatch   = 1024
	geoparquetVersion = "1.0.0"
)

type geoparquetDriver struct{}

func (geoparquetDriver) Name() string         { return geoparquetName }
func (geoparquetDriver) Extensions() []string { return []string{".parquet", ".geoparquet"} }

type geoMetadata struct {
	Version       string                   `json:"version"`
	PrimaryColumn string                   `json:"primary_column"`
	Columns       map[string]geoColumnMeta `json:"columns"`
}

type geoColumnMeta struct {
	Encoding      string          `json:"encoding"`
	GeometryTypes []string        `json:"geometry_types"`
	CRS           json.RawMessage `json:"crs,omitempty"`
	BBox          []float64       `json:"bbox,omitempty"`
}

type projjsonID struct {
	ID struct {
		Authority string `json:"authority"`
		Code      int    `json:"code"`
	} `json:"id"`
	Name string `json:"name,omitempty"`
}

// Open streams a GeoParquet file in record batches.
func (geoparquetDriver) Open(path string) (Reader, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, err
	}

	mem := memory.DefaultAllocator
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: geoparquetBatch}, mem)
	if err != nil {
		pf.Close()
		return nil, err
	}

	as, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, err
	}

	kv := pf.MetaData().KeyValueMetadata()
	r := &geoparquetReader{pf: pf, geomCol: -1, crs: crs.EPSG(crs.WGS84)}

	var meta geoMetadata
	primary := geometryColumn
	if v := kv.FindValue(geoMetadataKey); v != nil {
		if err := json.Unmarshal([]byte(*v), &meta); err != nil {
			pf.Close()
			return nil, fmt.Errorf("%w: geo metadata: %v", ErrInvalidData, err)
		}
		if meta.PrimaryColumn != "" {
			primary = meta.PrimaryColumn
		}
	}

	r.schema.Geometry = Unknown
	if col, ok := meta.Columns[primary]; ok {
		if col.Encoding != "" && col.Encoding != "WKB" {
			pf.Close()
			return nil, fmt.Errorf("%w: unsupported geometry encoding %q", ErrInvalidData, col.Encoding)
		}
		if len(col.GeometryTypes) == 1 {
			r.schema.Geometry = GeometryType(col.GeometryTypes[0])
		}
		r.crs = crsFromProjJSON(col.CRS)
	}
	if v := kv.FindValue(geomTypeKey); v != nil {
		r.schema.Geometry = GeometryType(*v)
	}
	if v := kv.FindValue(crsKey); v != nil {
		if c, err := crs.Parse(*v); err == nil {
			r.crs = c
		}
	}

	for i, f := range as.Fields() {
		if f.Name == primary {
			r.geomCol = i
			continue
		}
		r.schema.Fields = append(r.schema.Fields, Field{Name: f.Name, Type: fieldTypeFromArrow(f.Type)})
		r.attrCols = append(r.attrCols, i)
	}
	if r.geomCol < 0 {
		pf.Close()
		return nil, fmt.Errorf("%w: no %q column", ErrInvalidData, primary)
	}

	rr, err := fr.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		pf.Close()
		return nil, err
	}
	r.rr = rr

	return r, nil
}

// crsFromProjJSON recovers an EPSG code from a PROJJSON id. A missing member
// means OGC:CRS84; an explicit null means the CRS is undefined.
func crsFromProjJSON(raw json.RawMessage) crs.CRS {
	if len(raw) == 0 {
		return crs.EPSG(crs.WGS84)
	}
	if string(raw) == "null" {
		return crs.CRS{}
	}
	var p projjsonID
	if err := json.Unmarshal(raw, &p); err != nil || p.ID.Code <= 0 {
		return crs.CRS{Name: p.Name}
	}
	return crs.EPSG(p.ID.Code)
}

func fieldTypeFromArrow(t arrow.DataType) FieldType {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return Integer
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return Float
	case arrow.DATE32, arrow.DATE64:
		return Date
	case arrow.BOOL:
		return Bool
	default:
		return String
	}
}

type geoparquetReader struct {
	pf       *file.Reader
	rr       pqarrow.RecordReader
	rec      arrow.RecordBatch
	row      int
	schema   Schema
	crs      crs.CRS
	geomCol  int
	attrCols []int
	closed   bool
}

func (r *geoparquetReader) Schema() Schema { return r.schema.Clone() }
func (r *geoparquetReader) CRS() crs.CRS   { return r.crs }
func (r *geoparquetReader) Driver() string { return geoparquetName }

func (r *geoparquetReader) Next() (*geojson.Feature, error) {
	if r.closed {
		return nil, ErrClosed
	}

	for r.rec == nil || r.row >= int(r.rec.NumRows()) {
		if !r.rr.Next() {
			if err := r.rr.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, io.EOF
		}
		r.rec = r.rr.RecordBatch()
		r.row = 0
	}

	row := r.row
	r.row++

	var g orb.Geometry
	if col := r.rec.Column(r.geomCol); !col.IsNull(row) {
		b, ok := col.(*array.Binary)
		if !ok {
			return nil, fmt.Errorf("%w: geometry column is %s", ErrInvalidData, col.DataType())
		}
		geom, err := wkb.Unmarshal(b.Value(row))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidData, row, err)
		}
		g = geom
	}

	feature := geojson.NewFeature(g)
	for i, idx := range r.attrCols {
		field := r.schema.Fields[i]
		v, err := Normalize(arrowValue(r.rec.Column(idx), row), field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		feature.Properties[field.Name] = v
	}

	return feature, nil
}

func arrowValue(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}
	switch a := col.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return a.Value(i)
	case *array.Int16:
		return a.Value(i)
	case *array.Int8:
		return a.Value(i)
	case *array.Uint64:
		return a.Value(i)
	case *array.Uint32:
		return a.Value(i)
	case *array.Uint16:
		return a.Value(i)
	case *array.Uint8:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.Date32:
		return a.Value(i).ToTime()
	case *array.Date64:
		return a.Value(i).ToTime()
	default:
		return col.ValueStr(i)
	}
}

func (r *geoparquetReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.rr.Release()
	return r.pf.Close()
}

// Create writes a GeoParquet 1.0 file with WKB geometries and Snappy
// compression.
func (geoparquetDriver) Create(path string, schema Schema, c crs.CRS) (Writer, error) {
	fields := make([]arrow.Field, 0, len(schema.Fields)+1)
	for _, f := range schema.Fields {
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true})
	}
	fields = append(fields, arrow.Field{Name: geometryColumn, Type: arrow.BinaryTypes.Binary, Nullable: true})
	as := arrow.NewSchema(fields, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	fw, err := pqarrow.NewFileWriter(
		as,
		f,
		parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &geoparquetWriter{
		f:      f,
		fw:     fw,
		mem:    memory.DefaultAllocator,
		schema: schema.Clone(),
		arrow:  as,
		crs:    c,
		types:  map[GeometryType]bool{},
	}
	w.reset()
	return w, nil
}

func arrowType(t FieldType) arrow.DataType {
	switch t {
	case Integer:
		return arrow.PrimitiveTypes.Int64
	case Float:
		return arrow.PrimitiveTypes.Float64
	case Date:
		return arrow.FixedWidthTypes.Date32
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

type geoparquetWriter struct {
	f        *os.File
	fw       *pqarrow.FileWriter
	mem      memory.Allocator
	schema   Schema
	arrow    *arrow.Schema
	crs      crs.CRS
	builders []array.Builder
	geom     *array.BinaryBuilder
	pending  int
	count    int
	bound    orb.Bound
	hasBound bool
	types    map[GeometryType]bool
	closed   bool
}

func (w *geoparquetWriter) reset() {
	w.builders = w.builders[:0]
	for _, f := range w.schema.Fields {
		switch f.Type {
		case Integer:
			w.builders = append(w.builders, array.NewInt64Builder(w.mem))
		case Float:
			w.builders = append(w.builders, array.NewFloat64Builder(w.mem))
		case Date:
			w.builders = append(w.builders, array.NewDate32Builder(w.mem))
		case Bool:
			w.builders = append(w.builders, array.NewBooleanBuilder(w.mem))
		default:
			w.builders = append(w.builders, array.NewStringBuilder(w.mem))
		}
	}
	w.geom = array.NewBinaryBuilder(w.mem, arrow.BinaryTypes.Binary)
	w.pending = 0
}

func (w *geoparquetWriter) Count() int { return w.count }

func (w *geoparquetWriter) Write(f *geojson.Feature) error {
	if w.closed {
		return ErrClosed
	}
	if f == nil {
		return fmt.Errorf("%w: nil feature", ErrInvalidData)
	}
	if !w.schema.Geometry.Matches(f.Geometry) {
		return fmt.Errorf("%w: %s in %s table", ErrGeometryMismatch, TypeOf(f.Geometry), w.schema.Geometry)
	}

	values := make([]interface{}, len(w.schema.Fields))
	for i, field := range w.schema.Fields {
		v, err := Normalize(f.Properties[field.Name], field.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", field.Name, err)
		}
		values[i] = v
	}

	var geomBytes []byte
	if f.Geometry != nil {
		b, err := wkb.Marshal(f.Geometry)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		geomBytes = b
	}

	for i, v := range values {
		appendArrow(w.builders[i], v)
	}
	if geomBytes == nil {
		w.geom.AppendNull()
	} else {
		w.geom.Append(geomBytes)
		w.types[TypeOf(f.Geometry)] = true
		if w.hasBound {
			w.bound = w.bound.Union(f.Geometry.Bound())
		} else {
			w.bound, w.hasBound = f.Geometry.Bound(), true
		}
	}

	w.pending++
	w.count++
	if w.pending >= geoparquetBatch {
		return w.flush()
	}
	return nil
}

func appendArrow(b array.Builder, v interface{}) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.Date32Builder:
		bb.Append(arrow.Date32FromTime(v.(time.Time)))
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.StringBuilder:
		bb.Append(v.(string))
	}
}

func (w *geoparquetWriter) flush() error {
	if w.pending == 0 {
		return nil
	}

	cols := make([]arrow.Array, 0, len(w.builders)+1)
	for _, b := range w.builders {
		cols = append(cols, b.NewArray())
		b.Release()
	}
	cols = append(cols, w.geom.NewArray())
	w.geom.Release()

	rec := array.NewRecordBatch(w.arrow, cols, int64(w.pending))
	for _, c := range cols {
		c.Release()
	}
	defer rec.Release()

	w.reset()
	return w.fw.WriteBuffered(rec)
}

func (w *geoparquetWriter) geoMetadata() (string, error) {
	col := geoColumnMeta{Encoding: "WKB", GeometryTypes: []string{}}
	for t := range w.types {
		col.GeometryTypes = append(col.GeometryTypes, string(t))
	}
	if len(col.GeometryTypes) > 1 || w.types[Unknown] {
		col.GeometryTypes = []string{}
	}
	if w.hasBound {
		col.BBox = []float64{w.bound.Min[0], w.bound.Min[1], w.bound.Max[0], w.bound.Max[1]}
	}

	switch {
	case w.crs.Code > 0:
		var p projjsonID
		p.ID.Authority = "EPSG"
		p.ID.Code = w.crs.Code
		p.Name = w.crs.Name
		b, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		col.CRS = b
	default:
		col.CRS = json.RawMessage("null")
	}

	b, err := json.Marshal(geoMetadata{
		Version:       geoparquetVersion,
		PrimaryColumn: geometryColumn,
		Columns:       map[string]geoColumnMeta{geometryColumn: col},
	})
	return string(b), err
}

func (w *geoparquetWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.finish(); err != nil {
		w.f.Close()
		return err
	}
	// closing the parquet writer closes the file
	return w.fw.Close()
}

// finish flushes the last batch and records the file metadata.
func (w *geoparquetWriter) finish() error {
	if err := w.flush(); err != nil {
		return err
	}
	for _, b := range w.builders {
		b.Release()
	}
	w.geom.Release()

	meta, err := w.geoMetadata()
	if err != nil {
		return err
	}
	kv := map[string]string{
		geoMetadataKey: meta,
		geomTypeKey:    string(w.schema.Geometry),
	}
	if !w.crs.IsZero() {
		kv[crsKey] = w.crs.String()
	}
	for k, v := range kv {
		if err := w.fw.AppendKeyValueMetadata(k, v); err != nil {
			return err
		}
	}
	return nil
}
