// Package climate derives comfort values from temperature and humidity.
package climate

import "github.com/chewxy/math32"

// HeatIndex returns the apparent temperature in °C using the NWS
// Rothfusz regression. Steadman's simple formula is kept while its average
// with the air temperature stays below 80 °F.
func HeatIndex(celsius, humidity float32) float32 {
	t := CelsiusToFahrenheit(celsius)
	h := humidity

	hi := 0.5 * (t + 61.0 + (t-68.0)*1.2 + h*0.094)
	if (hi+t)/2 >= 80 {
		hi = -42.379 +
			2.04901523*t +
			10.14333127*h -
			0.22475541*t*h -
			0.00683783*t*t -
			0.05481717*h*h +
			0.00122874*t*t*h +
			0.00085282*t*h*h -
			0.00000199*t*t*h*h

		switch {
		case h < 13 && t >= 80 && t <= 112:
			hi -= (13 - h) * 0.25 * math32.Sqrt((17-math32.Abs(t-95))*0.05882)
		case h > 85 && t >= 80 && t <= 87:
			hi += (h - 85) * 0.1 * ((87 - t) * 0.2)
		}
	}
	return FahrenheitToCelsius(hi)
}

// Magnus coefficients (Sonntag 1990), valid for -45..60 °C.
const (
	magnusA = 17.62
	magnusB = 243.12
)

// DewPoint returns the dew point in °C. Humidity is clamped to 1..100 %RH
// so that a dry sensor never yields -Inf.
func DewPoint(celsius, humidity float32) float32 {
	h := humidity
	if h < 1 {
		h = 1
	}
	if h > 100 {
		h = 100
	}
	gamma := math32.Log(h/100) + magnusA*celsius/(magnusB+celsius)
	return magnusB * gamma / (magnusA - gamma)
}

func CelsiusToFahrenheit(c float32) float32 { return c*1.8 + 32 }

func FahrenheitToCelsius(f float32) float32 { return (f - 32) / 1.8 }

// Round rounds v to one decimal, the DHT22 resolution.
func Round(v float32) float32 {
	return math32.Round(v*10) / 10
}
