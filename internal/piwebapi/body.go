package piwebapi

import (
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// valueBody is the stream value payload. Field order is the wire order.
type valueBody struct {
	Timestamp         string          `json:"Timestamp"`
	Value             json.RawMessage `json:"Value"`
	UnitsAbbreviation string          `json:"UnitsAbbreviation"`
	Good              bool            `json:"Good"`
	Questionable      bool            `json:"Questionable"`
}

type newPointBody struct {
	Name             string `json:"Name"`
	Descriptor       string `json:"Descriptor"`
	PointClass       string `json:"PointClass"`
	PointType        string `json:"PointType"`
	EngineeringUnits string `json:"EngineeringUnits"`
	Step             bool   `json:"Step"`
	Future           bool   `json:"Future"`
}

type subRequest struct {
	Method   string            `json:"Method"`
	Resource string            `json:"Resource"`
	Content  string            `json:"Content"`
	Headers  map[string]string `json:"Headers"`
}

// valueLiteral keeps numbers and booleans as JSON literals and quotes
// anything else, objects and arrays included.
func valueLiteral(v string) json.RawMessage {
	if v != "" && json.Valid([]byte(v)) {
		switch gjson.Parse(v).Type {
		case gjson.Number, gjson.True, gjson.False:
			return json.RawMessage(v)
		}
	}
	quoted, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return quoted
}

func buildValueBody(dp DataPoint) ([]byte, error) {
	return json.Marshal(valueBody{
		Timestamp: dp.Timestamp,
		Value:     valueLiteral(dp.Value),
		Good:      true,
	})
}

func buildNewPointBody(name string, typ DataType) ([]byte, error) {
	pt, err := typ.PointType()
	if err != nil {
		return nil, err
	}
	return json.Marshal(newPointBody{
		Name:       name,
		Descriptor: name,
		PointClass: "classic",
		PointType:  pt,
	})
}

// pointSourceBody is the JSON string literal stamped on points this bridge creates.
var pointSourceBody = []byte(`"HMS"`)
