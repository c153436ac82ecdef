package sensor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

const (
	// MinReadInterval is the DHT22 sampling period. Reading faster
	// returns stale data or fails the handshake.
	MinReadInterval = 2 * time.Second
	// ReadAttempts is how often a failing read is tried per Read.
	ReadAttempts = 3
)

// Reader adds caching, retries and range validation to a Source.
// It implements drivers.Sensor so it can stand in for a TinyGo driver.
type Reader struct {
	src        Source
	retryDelay time.Duration
	now        func() time.Time

	mu       sync.Mutex
	last     Sample
	lastTime time.Time
	valid    bool
}

var _ drivers.Sensor = (*Reader)(nil)

func NewReader(src Source) *Reader {
	return &Reader{
		src:        src,
		retryDelay: MinReadInterval,
		now:        time.Now,
	}
}

// Read returns a fresh sample. A sample younger than MinReadInterval is
// served from cache instead of querying the sensor again.
func (r *Reader) Read(ctx context.Context) (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.valid && r.now().Sub(r.lastTime) < MinReadInterval {
		return r.last, nil
	}

	var err error
	for attempt := 1; attempt <= ReadAttempts; attempt++ {
		var s Sample
		s, err = r.src.Read(ctx)
		if err == nil {
			err = Validate(s)
		}
		if err == nil {
			r.last = s
			r.lastTime = r.now()
			r.valid = true
			return s, nil
		}
		if ctx.Err() != nil {
			break
		}
		log.Printf("debug: sensor read attempt %d/%d failed: %s", attempt, ReadAttempts, err)
		if attempt < ReadAttempts {
			select {
			case <-time.After(r.retryDelay):
			case <-ctx.Done():
				return Sample{}, ctx.Err()
			}
		}
	}
	r.valid = false
	return Sample{}, errors.Wrapf(err, "sensor read failed after %d attempts", ReadAttempts)
}

// Update implements drivers.Sensor.
func (r *Reader) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Humidity) == 0 {
		return nil
	}
	_, err := r.Read(context.Background())
	return err
}

// Temperature returns the last sample in milli °C, the TinyGo driver unit.
func (r *Reader) Temperature() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int32(math32.Round(r.last.Temperature * 1000))
}

// Humidity returns the last sample in hundredths of %RH.
func (r *Reader) Humidity() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int32(math32.Round(r.last.Humidity * 100))
}

func (r *Reader) Close() error {
	return r.src.Close()
}
