// Package csv keeps a CSV history of all readings.
package csv

import (
	"encoding/csv"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

// ErrBacklog is returned by Write when the writer cannot keep up.
var ErrBacklog = errors.New("csv history backlog full")

// History writes one row per reading:
//
//	time,temperature,humidity,state
//
// Sensor columns are empty for invalid readings. The file can be replayed
// with the csv sensor.
type History struct {
	csvWriter *csv.Writer
	closer    io.Closer
	records   chan spacestate.Reading
	stopOnce  sync.Once
	done      chan struct{}
}

// Open appends to filename, creating it if needed.
func Open(filename string) (*History, error) {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open csv history")
	}
	h := NewHistory(f)
	h.closer = f
	return h, nil
}

func NewHistory(out io.Writer) *History {
	h := &History{
		csvWriter: csv.NewWriter(out),
		records:   make(chan spacestate.Reading, 64),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *History) Write(r spacestate.Reading) error {
	select {
	case h.records <- r:
		return nil
	default:
		return ErrBacklog
	}
}

// Stop flushes pending rows and closes the file. Write must not be called
// after Stop.
func (h *History) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.records)
		<-h.done
		if h.closer != nil {
			err = h.closer.Close()
		}
	})
	return err
}

func (h *History) run() {
	defer close(h.done)
	for r := range h.records {
		err := h.csvWriter.Write(row(r))
		if err != nil {
			log.Println("error: unable to write CSV", err)
		}
		h.csvWriter.Flush()
		if err := h.csvWriter.Error(); err != nil {
			log.Println("error: unable to write CSV", err)
		}
	}
}

func row(r spacestate.Reading) []string {
	temp, hum := "", ""
	if r.Valid {
		temp = spacestate.FormatFloat(r.Temperature)
		hum = spacestate.FormatFloat(r.Humidity)
	}
	return []string{
		r.Time.UTC().Format(time.RFC3339),
		temp,
		hum,
		spacestate.SwitchState(r.Open).String(),
	}
}
