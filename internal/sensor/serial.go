package sensor

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Serial reads samples from a microcontroller bridge that polls the DHT22
// and prints one line per measurement. Two line formats are accepted:
//
//	T=21.4 H=48.2
//	RAW=028C015FEE
//
// Everything else is ignored, so bridges may print debug output.
//
// After opening the port, Serial writes PIN=<line> so the bridge polls the
// configured DHT pin.
type Serial struct {
	open    func() (io.ReadCloser, error)
	timeout time.Duration
	line    int

	mu      sync.Mutex
	conn    io.ReadCloser
	samples chan Sample
	errs    chan error
}

// NewSerial creates a Serial for the named port. The port is opened on the
// first Read and reopened after errors. A negative line announces no pin.
func NewSerial(port string, baudRate, line int) *Serial {
	s := newSerial(func() (io.ReadCloser, error) {
		p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open serial port %s", port)
		}
		return p, nil
	})
	s.line = line
	return s
}

func newSerial(open func() (io.ReadCloser, error)) *Serial {
	return &Serial{
		open:    open,
		timeout: 2 * MinReadInterval,
		line:    AnyLine,
		samples: make(chan Sample, 1),
		errs:    make(chan error, 1),
	}
}

// ErrTimeout is returned when the bridge printed nothing for too long.
var ErrTimeout = errors.New("sensor read timed out")

// Read returns the most recent sample printed by the bridge, waiting for the
// next one if none arrived since the last Read. A bridge that stays silent
// for twice the DHT22 sampling period fails the read with ErrTimeout.
func (s *Serial) Read(ctx context.Context) (Sample, error) {
	if err := s.connect(); err != nil {
		return Sample{}, err
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Sample{}, errors.Wrapf(ErrTimeout, "no line from serial bridge for %s", s.timeout)
	case smp := <-s.samples:
		return smp, nil
	case err := <-s.errs:
		return Sample{}, err
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

func (s *Serial) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, err := s.open()
	if err != nil {
		return err
	}
	s.conn = conn
	s.announce(conn)
	go s.readLines(conn)
	return nil
}

func (s *Serial) announce(conn io.ReadCloser) {
	w, ok := conn.(io.Writer)
	if !ok || s.line < 0 {
		return
	}
	if _, err := fmt.Fprintf(w, "PIN=%d\n", s.line); err != nil {
		log.Printf("warning: serial sensor: announcing GPIO%d: %s", s.line, err)
	}
}

func (s *Serial) readLines(conn io.ReadCloser) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		smp, err := ParseLine(scanner.Text())
		if err == errIgnoredLine {
			continue
		}
		if err != nil {
			log.Printf("debug: serial sensor: %s", err)
			continue
		}
		// keep only the latest sample
		select {
		case <-s.samples:
		default:
		}
		s.samples <- smp
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		conn.Close()
	}
	s.mu.Unlock()

	select {
	case s.errs <- errors.Wrap(err, "serial sensor disconnected"):
	default:
	}
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

var errIgnoredLine = errors.New("ignored line")

// ParseLine parses one bridge output line.
func ParseLine(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "RAW=") {
		b, err := hex.DecodeString(strings.TrimPrefix(line, "RAW="))
		if err != nil || len(b) != 5 {
			return Sample{}, errors.Errorf("invalid raw frame %q", line)
		}
		var frame [5]byte
		copy(frame[:], b)
		return Decode(frame)
	}

	var s Sample
	var seenT, seenH bool
	for _, field := range strings.Fields(line) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(kv[1], 32)
		if err != nil {
			return Sample{}, errors.Wrapf(err, "parsing %q", field)
		}
		switch kv[0] {
		case "T":
			s.Temperature = float32(v)
			seenT = true
		case "H":
			s.Humidity = float32(v)
			seenH = true
		}
	}
	if !seenT && !seenH {
		return Sample{}, errIgnoredLine
	}
	if !seenT || !seenH {
		return Sample{}, errors.Errorf("incomplete line %q", line)
	}
	return s, nil
}
