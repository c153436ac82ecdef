package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultIIORoot is where the kernel lists IIO devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// A Source delivers raw samples. Sources do not cache or retry, Reader does.
type Source interface {
	Read(ctx context.Context) (Sample, error)
	Close() error
}

// IIO reads the sysfs attributes of the kernel dht11 driver, which also
// handles the DHT22. The driver is bound to the data pin with a device tree
// overlay, e.g. dtoverlay=dht11,gpiopin=4 on a Raspberry Pi.
type IIO struct {
	dir string
}

// AnyLine makes FindIIODevice accept a dht11 device on any GPIO line.
const AnyLine = -1

// NewIIO uses dir as the device directory. If dir is empty, the dht11 device
// below DefaultIIORoot that is bound to GPIO line is used. A device whose
// line is known and differs from line is rejected.
func NewIIO(dir string, line int) (*IIO, error) {
	if dir == "" {
		var err error
		dir, err = FindIIODevice(DefaultIIORoot, line)
		if err != nil {
			return nil, err
		}
	} else if got, ok := deviceLine(dir); ok && line >= 0 && got != line {
		return nil, errors.Errorf("%s is bound to GPIO%d, dht_pin is GPIO%d", dir, got, line)
	}
	if _, err := os.Stat(filepath.Join(dir, "in_temp_input")); err != nil {
		return nil, errors.Wrapf(err, "no dht device at %s", dir)
	}
	return &IIO{dir: dir}, nil
}

// FindIIODevice returns the dht11 device directory below root that is bound
// to GPIO line. If no device tells its line, the first unknown one is used.
func FindIIODevice(root string, line int) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "iio:device*"))
	if err != nil {
		return "", err
	}
	var unknown string
	var others []string
	for _, dir := range matches {
		name, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(string(name)), "dht11") {
			continue
		}
		got, ok := deviceLine(dir)
		switch {
		case line < 0 || (ok && got == line):
			return dir, nil
		case ok:
			others = append(others, fmt.Sprintf("GPIO%d", got))
		case unknown == "":
			unknown = dir
		}
	}
	if unknown != "" {
		log.Printf("warning: cannot tell the GPIO line of %s, assuming GPIO%d", unknown, line)
		return unknown, nil
	}
	if len(others) > 0 {
		return "", errors.Errorf("no dht11 iio device on GPIO%d below %s, found %s", line, root, strings.Join(others, ", "))
	}
	return "", errors.Errorf("no dht11 iio device below %s", root)
}

// deviceLine returns the GPIO line a dht11 device is bound to. It is the
// second cell of the device tree gpios property, or else the unit address
// of the node (dht11@4).
func deviceLine(dir string) (int, bool) {
	b, err := os.ReadFile(filepath.Join(dir, "of_node", "gpios"))
	if err == nil && len(b) >= 8 {
		return int(binary.BigEndian.Uint32(b[4:8])), true
	}
	var names []string
	if target, err := filepath.EvalSymlinks(filepath.Join(dir, "of_node")); err == nil {
		names = append(names, filepath.Base(target))
	}
	if name, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
		names = append(names, strings.TrimSpace(string(name)))
	}
	for _, name := range names {
		i := strings.LastIndex(name, "@")
		if i < 0 {
			continue
		}
		if v, err := strconv.ParseUint(name[i+1:], 16, 32); err == nil {
			return int(v), true
		}
	}
	return 0, false
}

func (s *IIO) Read(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	// The driver refreshes both values on either read and caches them for
	// two seconds, so the pair is consistent.
	temp, err := s.readMilli("in_temp_input")
	if err != nil {
		return Sample{}, err
	}
	hum, err := s.readMilli("in_humidityrelative_input")
	if err != nil {
		return Sample{}, err
	}
	return Sample{Temperature: temp, Humidity: hum}, nil
}

func (s *IIO) readMilli(attr string) (float32, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, attr))
	if err != nil {
		// EIO and ETIMEDOUT are common when the sensor misses a handshake.
		return 0, errors.Wrapf(err, "reading %s", attr)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s %q", attr, b)
	}
	return float32(v) / 1000, nil
}

func (s *IIO) Close() error { return nil }
