// Package spaceapi reports the space state to a Space State API endpoint
// and serves a SpaceAPI document of its own.
package spaceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

const requestTimeout = 10 * time.Second

// ErrDeferred is returned by Push when the previous push was less than the
// minimum interval ago. The state is kept and sent by Flush.
var ErrDeferred = errors.New("space api push deferred")

// Update is the body sent to the endpoint.
type Update struct {
	Open        bool     `json:"open"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	LastChange  int64    `json:"lastchange"`
}

// NewUpdate builds the body for r. lastChange is when the switch last moved.
func NewUpdate(r spacestate.Reading, lastChange time.Time) Update {
	u := Update{Open: r.Open, LastChange: lastChange.Unix()}
	if r.Valid {
		u.Temperature = spacestate.Float(r.Temperature)
		u.Humidity = spacestate.Float(r.Humidity)
	}
	return u
}

// Client pushes updates no more often than once per interval.
type Client struct {
	url        string
	method     string
	token      string
	interval   time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	lastPush time.Time
	pending  *Update
}

func NewClient(url, method, token string, interval time.Duration) *Client {
	if method == "" {
		method = http.MethodPost
	}
	return &Client{
		url:        url,
		method:     method,
		token:      token,
		interval:   interval,
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

// Push sends u, or keeps it for Flush if the last push was too recent.
// A newer deferred update replaces an older one.
func (c *Client) Push(ctx context.Context, u Update) error {
	c.mu.Lock()
	if !c.lastPush.IsZero() && c.now().Sub(c.lastPush) < c.interval {
		c.pending = &u
		c.mu.Unlock()
		return ErrDeferred
	}
	c.lastPush = c.now()
	c.pending = nil
	c.mu.Unlock()

	return c.send(ctx, u)
}

// Due returns when a deferred update may be sent. ok is false when nothing
// is pending.
func (c *Client) Due() (due time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return time.Time{}, false
	}
	return c.lastPush.Add(c.interval), true
}

// Flush sends the deferred update if it is due.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.pending == nil || c.now().Sub(c.lastPush) < c.interval {
		c.mu.Unlock()
		return nil
	}
	u := *c.pending
	c.pending = nil
	c.lastPush = c.now()
	c.mu.Unlock()

	return c.send(ctx, u)
}

func (c *Client) send(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", c.method, c.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("%s %s: %s: %s", c.method, c.url, resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Fetch reads the state the endpoint currently publishes. Both the plain
// {"open": true} form and SpaceAPI documents ({"state": {"open": true}})
// are understood.
func (c *Client) Fetch(ctx context.Context) (open bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "GET %s", c.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("GET %s: %s", c.url, resp.Status)
	}

	var doc struct {
		Open  *bool `json:"open"`
		State *struct {
			Open *bool `json:"open"`
		} `json:"state"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return false, errors.Wrapf(err, "decode %s", c.url)
	}
	switch {
	case doc.State != nil && doc.State.Open != nil:
		return *doc.State.Open, nil
	case doc.Open != nil:
		return *doc.Open, nil
	}
	return false, errors.Errorf("no open state in response from %s", c.url)
}
