package spaceapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

type recorder struct {
	mu      sync.Mutex
	methods []string
	auth    []string
	bodies  []Update
	status  int
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var u Update
	_ = json.NewDecoder(r.Body).Decode(&u)
	rec.mu.Lock()
	rec.methods = append(rec.methods, r.Method)
	rec.auth = append(rec.auth, r.Header.Get("Authorization"))
	rec.bodies = append(rec.bodies, u)
	status := rec.status
	rec.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.bodies)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClient(t *testing.T, rec *recorder, method, token string) (*Client, *clock) {
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewClient(srv.URL, method, token, time.Minute)
	c.now = clk.now
	return c, clk
}

func TestPushRateLimit(t *testing.T) {
	rec := &recorder{}
	c, clk := newTestClient(t, rec, "", "")
	ctx := context.Background()

	require.NoError(t, c.Push(ctx, Update{Open: true, LastChange: 1}))
	assert.Equal(t, 1, rec.count())

	clk.advance(10 * time.Second)
	assert.Equal(t, ErrDeferred, c.Push(ctx, Update{Open: false, LastChange: 2}))
	clk.advance(10 * time.Second)
	assert.Equal(t, ErrDeferred, c.Push(ctx, Update{Open: true, LastChange: 3}))
	assert.Equal(t, 1, rec.count())

	due, ok := c.Due()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC), due)

	// not yet due
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 1, rec.count())

	clk.advance(40 * time.Second)
	require.NoError(t, c.Flush(ctx))
	require.Equal(t, 2, rec.count())
	assert.Equal(t, Update{Open: true, LastChange: 3}, rec.bodies[1], "latest deferred update wins")

	_, ok = c.Due()
	assert.False(t, ok)
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 2, rec.count())
}

func TestPushMethodAndToken(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec, http.MethodPut, "s3cret")
	require.NoError(t, c.Push(context.Background(), Update{Open: true}))
	assert.Equal(t, []string{"PUT"}, rec.methods)
	assert.Equal(t, []string{"Bearer s3cret"}, rec.auth)
}

func TestPushDefaultMethod(t *testing.T) {
	rec := &recorder{}
	c, _ := newTestClient(t, rec, "", "")
	require.NoError(t, c.Push(context.Background(), Update{}))
	assert.Equal(t, []string{"POST"}, rec.methods)
	assert.Equal(t, []string{""}, rec.auth)
}

func TestPushNon2xx(t *testing.T) {
	rec := &recorder{status: http.StatusForbidden}
	c, _ := newTestClient(t, rec, "", "")
	err := c.Push(context.Background(), Update{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestNewUpdate(t *testing.T) {
	changed := time.Unix(1700000000, 0)
	u := NewUpdate(spacestate.Reading{Temperature: 21.4, Humidity: 48.2, Open: true, Valid: true}, changed)
	b, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"open":true,"temperature":21.4,"humidity":48.2,"lastchange":1700000000}`, string(b))

	u = NewUpdate(spacestate.Reading{Temperature: 21.4, Open: false}, changed)
	b, err = json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"open":false,"lastchange":1700000000}`, string(b))
}

func TestFetch(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		want bool
		err  bool
	}{
		{"plain", `{"open": true}`, true, false},
		{"spaceapi", `{"api_compatibility":["14"],"state":{"open":false}}`, false, false},
		{"spaceapi wins", `{"open":false,"state":{"open":true}}`, true, false},
		{"missing", `{"space":"x"}`, false, true},
		{"garbage", `not json`, false, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			open, err := NewClient(srv.URL, "", "", time.Minute).Fetch(context.Background())
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, open)
		})
	}
}
