package spacestate

import (
	"strconv"
	"time"
)

// Payload is the JSON document published for a Reading. Sensor fields are
// omitted when the sensor could not be read.
type Payload struct {
	Time        string   `json:"time"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	HeatIndex   *float64 `json:"heat_index,omitempty"`
	DewPoint    *float64 `json:"dew_point,omitempty"`
	Open        bool     `json:"open"`
}

func NewPayload(r Reading) Payload {
	p := Payload{
		Time: r.Time.UTC().Format(time.RFC3339),
		Open: r.Open,
	}
	if r.Valid {
		p.Temperature = Float(r.Temperature)
		p.Humidity = Float(r.Humidity)
		p.HeatIndex = Float(r.HeatIndex)
		p.DewPoint = Float(r.DewPoint)
	}
	return p
}

// Map returns the payload as a generic map, e.g. for scripts.
func (p Payload) Map() map[string]interface{} {
	m := map[string]interface{}{
		"time": p.Time,
		"open": p.Open,
	}
	for k, v := range map[string]*float64{
		"temperature": p.Temperature,
		"humidity":    p.Humidity,
		"heat_index":  p.HeatIndex,
		"dew_point":   p.DewPoint,
	} {
		if v != nil {
			m[k] = *v
		}
	}
	return m
}

// Float converts f to the float64 with the shortest decimal representation,
// so 21.4 stays 21.4 and not 21.399999618530273.
func Float(f float32) *float64 {
	v, _ := strconv.ParseFloat(FormatFloat(f), 64)
	return &v
}

// FormatFloat formats f with one decimal, the DHT22 resolution.
func FormatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', 1, 32)
}
