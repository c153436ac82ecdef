package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
)

type fakeSource struct {
	results []fakeResult
	calls   int
}

type fakeResult struct {
	sample Sample
	err    error
}

func (f *fakeSource) Read(ctx context.Context) (Sample, error) {
	r := f.results[f.calls%len(f.results)]
	f.calls++
	return r.sample, r.err
}

func (f *fakeSource) Close() error { return nil }

func newTestReader(src Source, now *time.Time) *Reader {
	r := NewReader(src)
	r.retryDelay = 0
	r.now = func() time.Time { return *now }
	return r
}

func TestReaderCaches(t *testing.T) {
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{results: []fakeResult{
		{sample: Sample{Temperature: 21, Humidity: 40}},
		{sample: Sample{Temperature: 22, Humidity: 41}},
	}}
	r := newTestReader(src, &now)

	s, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(21), s.Temperature)

	now = now.Add(time.Second)
	s, err = r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(21), s.Temperature, "read within MinReadInterval must be cached")
	assert.Equal(t, 1, src.calls)

	now = now.Add(MinReadInterval)
	s, err = r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(22), s.Temperature)
	assert.Equal(t, 2, src.calls)
}

func TestReaderRetries(t *testing.T) {
	now := time.Now()
	src := &fakeSource{results: []fakeResult{
		{err: errors.New("timeout")},
		{sample: Sample{Temperature: 120, Humidity: 40}},
		{sample: Sample{Temperature: 19.5, Humidity: 55}},
	}}
	r := newTestReader(src, &now)

	s, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sample{Temperature: 19.5, Humidity: 55}, s)
	assert.Equal(t, 3, src.calls)
}

func TestReaderGivesUp(t *testing.T) {
	now := time.Now()
	src := &fakeSource{results: []fakeResult{{err: errors.New("timeout")}}}
	r := newTestReader(src, &now)

	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, ReadAttempts, src.calls)
}

func TestReaderDriverInterface(t *testing.T) {
	now := time.Now()
	src := &fakeSource{results: []fakeResult{{sample: Sample{Temperature: 21.4, Humidity: 48.25}}}}
	r := newTestReader(src, &now)

	require.NoError(t, r.Update(drivers.Temperature|drivers.Humidity))
	assert.Equal(t, int32(21400), r.Temperature())
	assert.Equal(t, int32(4825), r.Humidity())

	// other measurements do not touch the sensor
	require.NoError(t, r.Update(drivers.Pressure))
	assert.Equal(t, 1, src.calls)
}
