package spaceapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

func TestStateLastChange(t *testing.T) {
	var st State
	_, _, ok := st.Get()
	assert.False(t, ok)

	t0 := time.Unix(1000, 0)
	st.Update(spacestate.Reading{Time: t0, Open: false, Valid: true, Temperature: 20})
	st.Update(spacestate.Reading{Time: t0.Add(time.Minute), Open: false, Valid: true, Temperature: 21})
	_, changed, _ := st.Get()
	assert.Equal(t, t0, changed)

	st.SetOpen(t0.Add(2*time.Minute), true)
	r, changed, ok := st.Get()
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Minute), changed)
	assert.True(t, r.Open)
	assert.True(t, r.Valid, "switch change keeps the last sensor values")
	assert.Equal(t, float32(21), r.Temperature)
}

func TestStateFailedCycleDropsSensorValues(t *testing.T) {
	var st State
	t0 := time.Unix(1700000000, 0)
	st.Update(spacestate.Reading{Time: t0, Open: true, Valid: true, Temperature: 21.4, Humidity: 48.2})
	for i := 1; i <= 3; i++ {
		st.Update(spacestate.Reading{Time: t0.Add(time.Duration(i) * time.Hour), Open: true})
	}

	r, changed, _ := st.Get()
	assert.False(t, r.Valid)
	assert.Equal(t, t0, changed)

	u := NewUpdate(r, changed)
	assert.Nil(t, u.Temperature)
	assert.Nil(t, u.Humidity)

	doc := NewDocument("", "", &st)
	assert.Empty(t, doc.Sensors.Temperature)
	assert.Empty(t, doc.Sensors.Humidity)
	require.NotNil(t, doc.State.Open)
	assert.True(t, *doc.State.Open)
}

func TestHandlerSpaceAPI(t *testing.T) {
	var st State
	h := Handler("VoidWarranties", "Antwerp", &st, nil)

	get := func() map[string]interface{} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spaceapi.json", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		return doc
	}

	doc := get()
	assert.Equal(t, []interface{}{"14"}, doc["api_compatibility"])
	assert.Equal(t, map[string]interface{}{"open": nil}, doc["state"])

	st.Update(spacestate.Reading{Time: time.Unix(1700000000, 0), Open: true, Valid: true, Temperature: 21.4, Humidity: 48.2})
	doc = get()
	assert.Equal(t, "VoidWarranties", doc["space"])
	assert.Equal(t, map[string]interface{}{"open": true, "lastchange": float64(1700000000)}, doc["state"])
	sensors := doc["sensors"].(map[string]interface{})
	temp := sensors["temperature"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 21.4, temp["value"])
	assert.Equal(t, "Antwerp", temp["location"])
}

func TestHandlerHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	})
	h := Handler("", "", &State{}, metrics)

	for path, want := range map[string]string{"/health": "ok", "/metrics": "metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/spaceapi.json", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
