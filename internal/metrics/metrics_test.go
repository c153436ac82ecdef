package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

func TestObserve(t *testing.T) {
	m := New()
	now := time.Unix(1700000000, 0)
	m.Observe(spacestate.Reading{Time: now, Temperature: 21.5, Humidity: 40, Open: true, Valid: true})

	assert.Equal(t, 21.5, testutil.ToFloat64(m.temperature))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.humidity))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.open))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorOK))
	assert.Equal(t, now, m.LastReport())

	m.Observe(spacestate.Reading{Time: now.Add(time.Minute), Open: false})
	assert.Equal(t, 21.5, testutil.ToFloat64(m.temperature), "keeps last good value")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.open))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sensorOK))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reports))
}

func TestErrorsAndEvents(t *testing.T) {
	m := New()
	m.Error(OutputMQTT)
	m.Error(OutputMQTT)
	m.Error(OutputSpaceAPI)
	m.Event(spacestate.Event{Kind: spacestate.EventSwitch, Open: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.errors.WithLabelValues(OutputMQTT)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues(OutputSpaceAPI)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("switch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.open))
}
