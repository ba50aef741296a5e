package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
)

const flatgeobufName = "FlatGeobuf"

var fgbMagic = []byte{0x66, 0x67, 0x62, 0x03, 0x66, 0x67, 0x62, 0x00}

// packed R-tree node: minX, minY, maxX, maxY float64 + offset uint64
const fgbNodeSize = 40

type flatgeobufDriver struct{}

func (flatgeobufDriver) Name() string         { return flatgeobufName }
func (flatgeobufDriver) Extensions() []string { return []string{".fgb"} }

// Open reads a FlatGeobuf file. Features are returned in file order; a
// spatial index, when present, is skipped.
func (flatgeobufDriver) Open(path string) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newFlatgeobufReader(data)
}

// Create creates a FlatGeobuf file. Features are buffered and the file is
// written on Close without a spatial index, which keeps the write order.
func (flatgeobufDriver) Create(path string, schema Schema, c crs.CRS) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &flatgeobufWriter{
		f:      f,
		name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		schema: schema.Clone(),
		crs:    c,
	}, nil
}

type fgbColumn struct {
	field Field
	kind  flattypes.ColumnType
}

type flatgeobufReader struct {
	data     []byte
	off      int
	header   *flattypes.Header
	geomType flattypes.GeometryType
	schema   Schema
	columns  []fgbColumn
	crs      crs.CRS
	closed   bool
}

func newFlatgeobufReader(data []byte) (*flatgeobufReader, error) {
	if len(data) < len(fgbMagic)+4 || !bytes.Equal(data[:3], fgbMagic[:3]) || !bytes.Equal(data[4:7], fgbMagic[4:7]) {
		return nil, fmt.Errorf("%w: not a FlatGeobuf file", ErrInvalidData)
	}

	size := int(binary.LittleEndian.Uint32(data[8:12]))
	start := len(fgbMagic) + 4
	if start+size > len(data) {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidData)
	}

	// the upstream reader only reaches features through the index, so it is
	// used for the header and features are walked in file order here
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	h := fgb.Header()
	if h == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidData)
	}

	r := &flatgeobufReader{
		data:     data,
		off:      start + size,
		header:   h,
		geomType: h.GeometryType(),
	}
	if h.IndexNodeSize() > 0 {
		r.off += packedRTreeSize(h.FeaturesCount(), h.IndexNodeSize())
	}
	if r.off > len(data) {
		return nil, fmt.Errorf("%w: truncated index", ErrInvalidData)
	}

	r.schema.Geometry = fromFGBGeometryType(r.geomType)
	for i := 0; i < h.ColumnsLength(); i++ {
		var col flattypes.Column
		if !h.Columns(&col, i) {
			continue
		}
		field := Field{Name: string(col.Name()), Type: fieldTypeFromFGB(col.Type())}
		r.columns = append(r.columns, fgbColumn{field: field, kind: col.Type()})
		r.schema.Fields = append(r.schema.Fields, field)
	}

	var fc flattypes.Crs
	if h.Crs(&fc) != nil {
		r.crs = crsFromFGB(&fc)
	}

	return r, nil
}

func crsFromFGB(fc *flattypes.Crs) crs.CRS {
	c := crs.EPSG(int(fc.Code()))
	if fc.Code() <= 0 {
		c = crs.CRS{Name: string(fc.Name())}
	}
	for _, text := range [][]byte{fc.Wkt(), fc.Description()} {
		if parsed, err := crs.FromWKT(string(text)); err == nil {
			if c.Code == 0 {
				return parsed
			}
			c.WKT = parsed.WKT
			return c
		}
	}
	if c.Code == 0 {
		c.Raw = string(fc.Description())
	}
	return c
}

// packedRTreeSize returns the byte size of a packed Hilbert R-tree holding n
// items with the given node size.
func packedRTreeSize(n uint64, nodeSize uint16) int {
	if n == 0 {
		return 0
	}
	ns := uint64(nodeSize)
	if ns < 2 {
		ns = 2
	}
	total := n
	for level := n; level != 1; {
		level = (level + ns - 1) / ns
		total += level
	}
	return int(total * fgbNodeSize)
}

func (r *flatgeobufReader) Schema() Schema { return r.schema.Clone() }
func (r *flatgeobufReader) CRS() crs.CRS   { return r.crs }
func (r *flatgeobufReader) Driver() string { return flatgeobufName }

func (r *flatgeobufReader) Next() (*geojson.Feature, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.off >= len(r.data) {
		return nil, io.EOF
	}
	if r.off+4 > len(r.data) {
		return nil, fmt.Errorf("%w: truncated feature", ErrInvalidData)
	}

	size := int(binary.LittleEndian.Uint32(r.data[r.off:]))
	start := r.off + 4
	if start+size > len(r.data) {
		return nil, fmt.Errorf("%w: truncated feature", ErrInvalidData)
	}
	r.off = start + size

	ff := flattypes.GetRootAsFeature(r.data[start:start+size], 0)

	var g flattypes.Geometry
	feature := geojson.NewFeature(decodeFGBGeometry(ff.Geometry(&g), r.geomType))

	raw := make([]byte, ff.PropertiesLength())
	for i := range raw {
		raw[i] = ff.Properties(i)
	}
	props, err := decodeFGBProperties(raw, r.columns)
	if err != nil {
		return nil, err
	}
	feature.Properties = props

	return feature, nil
}

func (r *flatgeobufReader) Close() error {
	r.closed = true
	r.data = nil
	return nil
}

type flatgeobufWriter struct {
	f        *os.File
	name     string
	schema   Schema
	crs      crs.CRS
	features []*writer.Feature
	closed   bool
}

func (w *flatgeobufWriter) Count() int { return len(w.features) }

func (w *flatgeobufWriter) Write(f *geojson.Feature) error {
	if w.closed {
		return ErrClosed
	}
	if f == nil {
		return fmt.Errorf("%w: nil feature", ErrInvalidData)
	}
	if !w.schema.Geometry.Matches(f.Geometry) {
		return fmt.Errorf("%w: %s in %s layer", ErrGeometryMismatch, TypeOf(f.Geometry), w.schema.Geometry)
	}

	b := flatbuffers.NewBuilder(1024)
	feature := writer.NewFeature(b)
	if f.Geometry != nil {
		g := encodeFGBGeometry(f.Geometry, b)
		if g == nil {
			return fmt.Errorf("%w: %T", ErrGeometryMismatch, f.Geometry)
		}
		feature.SetGeometry(g)
	}

	props, err := encodeFGBProperties(f.Properties, w.schema)
	if err != nil {
		return err
	}
	if len(props) > 0 {
		feature.SetProperties(props)
	}

	w.features = append(w.features, feature)
	return nil
}

func (w *flatgeobufWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// flush writes the header and the buffered features.
func (w *flatgeobufWriter) flush() error {
	b := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(b)
	header.SetName(w.name)
	header.SetGeometryType(toFGBGeometryType(w.schema.Geometry))
	if len(w.schema.Fields) > 0 {
		header.SetColumns(fgbColumns(w.schema, b))
	}
	if !w.crs.IsZero() {
		header.SetCrs(w.fgbCrs(b))
	}

	out := bufio.NewWriter(w.f)
	gen := &bufferedFeatures{features: w.features}
	if _, err := writer.NewWriter(header, false, gen, nil).Write(out); err != nil {
		return err
	}
	return out.Flush()
}

func (w *flatgeobufWriter) fgbCrs(b *flatbuffers.Builder) *writer.Crs {
	c := writer.NewCrs(b)
	if w.crs.Code > 0 {
		c.SetOrg("EPSG")
		c.SetCode(int32(w.crs.Code))
	}
	if name := w.crs.Name; name != "" {
		c.SetName(name)
	}

	wkt := w.crs.WKT
	if wkt == "" && w.crs.Code > 0 {
		wkt = crs.EPSG(w.crs.Code).WKT
	}
	if wkt != "" {
		c.SetDescription(wkt)
	} else if w.crs.Raw != "" {
		c.SetDescription(w.crs.Raw)
	}
	return c
}

// bufferedFeatures replays written features to the FlatGeobuf writer.
type bufferedFeatures struct {
	features []*writer.Feature
	next     int
}

func (g *bufferedFeatures) Generate() *writer.Feature {
	if g.next >= len(g.features) {
		return nil
	}
	f := g.features[g.next]
	g.next++
	return f
}
