package collector

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Encode turns an engineering value into the register words a device would
// hold for p, undoing scale and offset. Bit points return nil words and the
// bit state instead.
func (p Point) Encode(value float64) ([]uint16, bool, error) {
	switch strings.ToLower(p.RegisterType) {
	case "coil", "discrete":
		return nil, value != 0, nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, false, fmt.Errorf("point %s: invalid value %v", p.Name, value)
	}
	raw := (value - p.Offset) / p.scale()

	dt := strings.ToLower(p.DataType)
	if dt == "" {
		dt = "uint16"
	}
	switch dt {
	case "uint16":
		r := math.Round(raw)
		if r < 0 || r > math.MaxUint16 {
			return nil, false, fmt.Errorf("point %s: %v out of range for uint16", p.Name, value)
		}
		return []uint16{uint16(r)}, false, nil
	case "int16":
		r := math.Round(raw)
		if r < math.MinInt16 || r > math.MaxInt16 {
			return nil, false, fmt.Errorf("point %s: %v out of range for int16", p.Name, value)
		}
		return []uint16{uint16(int16(r))}, false, nil
	case "float32":
		f := float32(raw)
		if math.IsInf(float64(f), 0) {
			return nil, false, fmt.Errorf("point %s: %v overflows float32", p.Name, value)
		}
		return p.words(math.Float32bits(f)), false, nil
	case "uint32":
		r := math.Round(raw)
		if r < 0 || r > math.MaxUint32 {
			return nil, false, fmt.Errorf("point %s: %v out of range for uint32", p.Name, value)
		}
		return p.words(uint32(r)), false, nil
	case "int32":
		r := math.Round(raw)
		if r < math.MinInt32 || r > math.MaxInt32 {
			return nil, false, fmt.Errorf("point %s: %v out of range for int32", p.Name, value)
		}
		return p.words(uint32(int32(r))), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported data type: %s", p.DataType)
	}
}

// words lays a 32-bit value out in the point's byte order. Every supported
// order is its own inverse, so reorder32 serves both directions.
func (p Point) words(v uint32) []uint16 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b := reorder32(buf[:], p.ByteOrder)
	return []uint16{binary.BigEndian.Uint16(b[0:2]), binary.BigEndian.Uint16(b[2:4])}
}
