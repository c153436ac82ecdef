// Package sensor reads temperature and humidity from a DHT22.
//
// The DHT22 protocol is timing critical, so the node never bit-bangs it
// itself. Samples come from the kernel dht11 IIO driver, from a
// microcontroller bridge on a serial line, or from a recorded CSV file.
package sensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sensor limits from the DHT22/AM2302 datasheet.
const (
	MinTemperature = -40.0
	MaxTemperature = 80.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
)

var (
	ErrChecksum   = errors.New("dht22 checksum mismatch")
	ErrOutOfRange = errors.New("dht22 value out of range")
	ErrNoData     = errors.New("no sensor data")
)

// A Sample is one temperature/humidity measurement.
type Sample struct {
	Temperature float32 // °C
	Humidity    float32 // %RH
}

func (s Sample) String() string {
	return fmt.Sprintf("%.1f°C %.1f%%", s.Temperature, s.Humidity)
}

// Decode converts a raw 40 bit DHT22 frame.
// Bytes 0-1 are humidity in 0.1 %RH, bytes 2-3 temperature in 0.1 °C with
// bit 15 as sign, byte 4 the low byte of the sum of bytes 0-3.
func Decode(frame [5]byte) (Sample, error) {
	sum := frame[0] + frame[1] + frame[2] + frame[3]
	if sum != frame[4] {
		return Sample{}, errors.Wrapf(ErrChecksum, "got %#02x want %#02x", frame[4], sum)
	}
	hum := uint16(frame[0])<<8 | uint16(frame[1])
	raw := uint16(frame[2]&0x7f)<<8 | uint16(frame[3])
	temp := float32(raw) / 10
	if frame[2]&0x80 != 0 {
		temp = -temp
	}
	s := Sample{Temperature: temp, Humidity: float32(hum) / 10}
	return s, Validate(s)
}

// Encode is the inverse of Decode. Bridges and tests use it to build frames.
func Encode(s Sample) [5]byte {
	var frame [5]byte
	hum := uint16(s.Humidity*10 + 0.5)
	t := s.Temperature
	neg := t < 0
	if neg {
		t = -t
	}
	temp := uint16(t*10+0.5) & 0x7fff
	if neg {
		temp |= 0x8000
	}
	frame[0] = byte(hum >> 8)
	frame[1] = byte(hum)
	frame[2] = byte(temp >> 8)
	frame[3] = byte(temp)
	frame[4] = frame[0] + frame[1] + frame[2] + frame[3]
	return frame
}

// Validate rejects values outside of what a DHT22 can measure. Those are
// almost always wiring problems or corrupted frames.
func Validate(s Sample) error {
	if s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		return errors.Wrapf(ErrOutOfRange, "temperature %.1f", s.Temperature)
	}
	if s.Humidity < MinHumidity || s.Humidity > MaxHumidity {
		return errors.Wrapf(ErrOutOfRange, "humidity %.1f", s.Humidity)
	}
	return nil
}
