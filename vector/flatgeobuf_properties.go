package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/geojson"
)

// fgbColumnType is the column type written for each attribute type.
func fgbColumnType(t FieldType) flattypes.ColumnType {
	switch t {
	case Integer:
		return flattypes.ColumnTypeLong
	case Float:
		return flattypes.ColumnTypeDouble
	case Date:
		return flattypes.ColumnTypeDateTime
	case Bool:
		return flattypes.ColumnTypeBool
	default:
		return flattypes.ColumnTypeString
	}
}

// fieldTypeFromFGB maps any FlatGeobuf column type onto an attribute type.
func fieldTypeFromFGB(t flattypes.ColumnType) FieldType {
	switch t {
	case flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte,
		flattypes.ColumnTypeShort, flattypes.ColumnTypeUShort,
		flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt,
		flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		return Integer
	case flattypes.ColumnTypeFloat, flattypes.ColumnTypeDouble:
		return Float
	case flattypes.ColumnTypeBool:
		return Bool
	case flattypes.ColumnTypeDateTime:
		return Date
	default:
		return String
	}
}

func fgbColumns(s Schema, b *flatbuffers.Builder) []*writer.Column {
	cols := make([]*writer.Column, 0, len(s.Fields))
	for _, f := range s.Fields {
		col := writer.NewColumn(b)
		col.SetName(f.Name)
		col.SetTitle(f.Name)
		col.SetType(fgbColumnType(f.Type))
		col.SetNullable(true)
		cols = append(cols, col)
	}
	return cols
}

// encodeFGBProperties encodes props in schema order as
// [uint16 column index][value] pairs. Nil values are omitted.
func encodeFGBProperties(props geojson.Properties, s Schema) ([]byte, error) {
	var buf bytes.Buffer
	for i, f := range s.Fields {
		v, err := Normalize(props[f.Name], f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if v == nil {
			continue
		}

		binary.Write(&buf, binary.LittleEndian, uint16(i))
		switch val := v.(type) {
		case int64:
			binary.Write(&buf, binary.LittleEndian, val)
		case float64:
			binary.Write(&buf, binary.LittleEndian, math.Float64bits(val))
		case bool:
			if val {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		case time.Time:
			writeFGBString(&buf, val.Format(dateLayout))
		case string:
			writeFGBString(&buf, val)
		}
	}
	return buf.Bytes(), nil
}

func writeFGBString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

// decodeFGBProperties decodes a property buffer against the file's columns.
// Columns absent from the buffer are nil.
func decodeFGBProperties(data []byte, cols []fgbColumn) (geojson.Properties, error) {
	props := make(geojson.Properties, len(cols))
	for _, c := range cols {
		props[c.field.Name] = nil
	}

	for off := 0; off < len(data); {
		if off+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated property index", ErrInvalidData)
		}
		idx := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if idx >= len(cols) {
			return nil, fmt.Errorf("%w: property column %d out of range", ErrInvalidData, idx)
		}

		raw, n, err := readFGBValue(data[off:], cols[idx].kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", cols[idx].field.Name, err)
		}
		off += n

		v, err := Normalize(raw, cols[idx].field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", cols[idx].field.Name, err)
		}
		props[cols[idx].field.Name] = v
	}
	return props, nil
}

// readFGBValue reads one value of type t and reports the bytes consumed.
func readFGBValue(data []byte, t flattypes.ColumnType) (interface{}, int, error) {
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: truncated %s value", ErrInvalidData, flattypes.EnumNamesColumnType[t])
		}
		return nil
	}

	switch t {
	case flattypes.ColumnTypeBool, flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		switch t {
		case flattypes.ColumnTypeBool:
			return data[0] != 0, 1, nil
		case flattypes.ColumnTypeByte:
			return int64(int8(data[0])), 1, nil
		}
		return int64(data[0]), 1, nil

	case flattypes.ColumnTypeShort, flattypes.ColumnTypeUShort:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		u := binary.LittleEndian.Uint16(data)
		if t == flattypes.ColumnTypeShort {
			return int64(int16(u)), 2, nil
		}
		return int64(u), 2, nil

	case flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt, flattypes.ColumnTypeFloat:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		u := binary.LittleEndian.Uint32(data)
		switch t {
		case flattypes.ColumnTypeInt:
			return int64(int32(u)), 4, nil
		case flattypes.ColumnTypeUInt:
			return int64(u), 4, nil
		}
		return float64(math.Float32frombits(u)), 4, nil

	case flattypes.ColumnTypeLong, flattypes.ColumnTypeULong, flattypes.ColumnTypeDouble:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		u := binary.LittleEndian.Uint64(data)
		switch t {
		case flattypes.ColumnTypeLong:
			return int64(u), 8, nil
		case flattypes.ColumnTypeULong:
			return int64(u), 8, nil
		}
		return math.Float64frombits(u), 8, nil

	case flattypes.ColumnTypeString, flattypes.ColumnTypeJson,
		flattypes.ColumnTypeDateTime, flattypes.ColumnTypeBinary:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(binary.LittleEndian.Uint32(data))
		if err := need(4 + n); err != nil {
			return nil, 0, err
		}
		return string(data[4 : 4+n]), 4 + n, nil
	}

	return nil, 0, fmt.Errorf("%w: column type %d", ErrInvalidData, t)
}
