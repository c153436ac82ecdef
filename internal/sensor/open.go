package sensor

import (
	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/config"
	"github.com/voidwarranties/spacestate/internal/pin"
)

// Open returns the Source selected by hardware.sensor.
// The DHT pin picks the IIO device and is announced to serial bridges.
func Open(conf config.Hardware) (Source, error) {
	p, err := pin.Parse(conf.DHTPin)
	if err != nil {
		return nil, errors.Wrap(err, "dht_pin")
	}
	switch conf.Sensor {
	case config.SensorIIO:
		return NewIIO(conf.IIODevice, p.Line)
	case config.SensorSerial:
		return NewSerial(conf.SerialPort, conf.SerialBaud, p.Line), nil
	case config.SensorCSV:
		return NewReplay(conf.ReplayFile)
	}
	return nil, errors.Errorf("unknown sensor %q", conf.Sensor)
}
