package piwebapi

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DataType is the local representation of a tag value.
type DataType int

const (
	TypeBoolean DataType = iota + 1
	TypeFloat
	TypeInt
	TypeDWord
)

// ParseDataType accepts the names used in configuration files.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean", "bool", "digital":
		return TypeBoolean, nil
	case "float", "float32", "float64", "real":
		return TypeFloat, nil
	case "int", "integer", "int16", "int32", "uint16":
		return TypeInt, nil
	case "dword", "uint32":
		return TypeDWord, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDataType, s)
	}
}

func (t DataType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeDWord:
		return "dword"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// PointType maps a tag data type onto the PI point type used at creation.
func (t DataType) PointType() (string, error) {
	switch t {
	case TypeBoolean:
		return "Digital", nil
	case TypeFloat:
		return "Float64", nil
	case TypeInt:
		return "Int32", nil
	case TypeDWord:
		return "Float64", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDataType, t)
	}
}

// Tag is one local value mirrored into a PI Point.
// Name and Type are fixed; the value and WebID are updated in place.
type Tag struct {
	Name string
	Type DataType

	mu    sync.RWMutex
	value string
	webID string
}

// NewTag returns a tag with an initial value of "0".
func NewTag(name string, typ DataType) *Tag {
	return &Tag{Name: name, Type: typ, value: "0"}
}

// PointName is the server-side identity of the tag for a given device.
func (t *Tag) PointName(device string) string {
	return t.Name + "-" + device
}

func (t *Tag) Value() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

func (t *Tag) SetValue(v string) {
	t.mu.Lock()
	t.value = v
	t.mu.Unlock()
}

// WebID returns the resolved PI Point WebID, empty until resolution succeeds.
func (t *Tag) WebID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.webID
}

func (t *Tag) SetWebID(id string) {
	t.mu.Lock()
	t.webID = id
	t.mu.Unlock()
}

// TimestampLayout is the PI timestamp format: UTC, second precision, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DataPoint is one sampled value ready to post.
type DataPoint struct {
	Value     string
	Timestamp string
}

// NewDataPoint stamps value with the UTC time at.
func NewDataPoint(value string, at time.Time) DataPoint {
	return DataPoint{Value: value, Timestamp: FormatTimestamp(at)}
}
