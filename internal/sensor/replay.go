package sensor

import (
	"context"
	"encoding/csv"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Replay plays back readings recorded by the CSV history sink
// (time,temperature,humidity,...). It loops at the end of the file, which
// makes it useful for bench testing a node without hardware.
type Replay struct {
	mu      sync.Mutex
	samples []Sample
	next    int
}

// NewReplay loads the samples from filename, "-" reads stdin.
func NewReplay(filename string) (*Replay, error) {
	var r io.Reader
	if filename == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return newReplay(r)
}

func newReplay(r io.Reader) (*Replay, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var samples []Sample
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 3 {
			return nil, errors.Errorf("expected at least 3 fields, got %d", len(record))
		}
		if record[1] == "" || record[2] == "" {
			// sensor was not readable at that time
			continue
		}
		if _, err := time.Parse(time.RFC3339, record[0]); err != nil {
			log.Println("warning: found invalid timestamp in CSV", err)
		}
		temp, err := strconv.ParseFloat(record[1], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing temperature %q", record[1])
		}
		hum, err := strconv.ParseFloat(record[2], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing humidity %q", record[2])
		}
		samples = append(samples, Sample{Temperature: float32(temp), Humidity: float32(hum)})
	}
	if len(samples) == 0 {
		return nil, ErrNoData
	}
	return &Replay{samples: samples}, nil
}

func (r *Replay) Read(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.samples[r.next]
	r.next = (r.next + 1) % len(r.samples)
	return s, nil
}

func (r *Replay) Close() error { return nil }
