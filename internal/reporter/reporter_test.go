package reporter

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidwarranties/spacestate/internal/mqtt"
	"github.com/voidwarranties/spacestate/internal/router"
	"github.com/voidwarranties/spacestate/internal/sensor"
	"github.com/voidwarranties/spacestate/internal/spaceapi"
	"github.com/voidwarranties/spacestate/internal/spacestate"
	"github.com/voidwarranties/spacestate/internal/transform"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
	sent chan published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{sent: make(chan published, 64)}
}

func (p *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	m := published{topic, string(payload), retained}
	p.mu.Lock()
	p.msgs = append(p.msgs, m)
	err := p.err
	p.mu.Unlock()
	select {
	case p.sent <- m:
	default:
	}
	return err
}

func (p *fakePublisher) topics() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := make(map[string]string)
	for _, msg := range p.msgs {
		m[msg.topic] = msg.payload
	}
	return m
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}

type fakeSensor struct {
	sample sensor.Sample
	err    error
}

func (s *fakeSensor) Read(context.Context) (sensor.Sample, error) { return s.sample, s.err }

type fakeSwitch struct {
	state   spacestate.SwitchState
	changes chan spacestate.SwitchState
}

func (s *fakeSwitch) State() (spacestate.SwitchState, error) { return s.state, nil }
func (s *fakeSwitch) Changes() <-chan spacestate.SwitchState { return s.changes }

type fakeSpaceAPI struct {
	mu      sync.Mutex
	pushes  []spaceapi.Update
	remote  bool
	pushErr error
}

func (f *fakeSpaceAPI) Push(_ context.Context, u spaceapi.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, u)
	return f.pushErr
}
func (f *fakeSpaceAPI) Due() (time.Time, bool)              { return time.Time{}, false }
func (f *fakeSpaceAPI) Flush(context.Context) error         { return nil }
func (f *fakeSpaceAPI) Fetch(context.Context) (bool, error) { return f.remote, nil }
func (f *fakeSpaceAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

type feeder struct{ fed int }

func (f *feeder) Feed() { f.fed++ }

type fixture struct {
	r     *Reporter
	pub   *fakePublisher
	sens  *fakeSensor
	sw    *fakeSwitch
	api   *fakeSpaceAPI
	sink  []spacestate.Reading
	watch *feeder
}

var testTime = time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		pub:   newFakePublisher(),
		sens:  &fakeSensor{sample: sensor.Sample{Temperature: 21.5, Humidity: 40}},
		sw:    &fakeSwitch{state: spacestate.Open, changes: make(chan spacestate.SwitchState, 1)},
		api:   &fakeSpaceAPI{},
		watch: &feeder{},
	}
	f.r = New(Options{
		Topics:   mqtt.NewTopics("environment/dht"),
		Retain:   true,
		Interval: time.Hour,
		Sensor:   f.sens,
		Switch:   f.sw,
		SpaceAPI: f.api,
		Sinks: []spacestate.Sink{spacestate.SinkFunc(func(r spacestate.Reading) error {
			f.sink = append(f.sink, r)
			return nil
		})},
		Watchdog: f.watch,
	})
	f.r.now = func() time.Time { return testTime }
	f.r.SetPublisher(f.pub)
	return f
}

func TestReport(t *testing.T) {
	f := newFixture()
	f.r.Report(context.Background())

	got := f.pub.topics()
	assert.Equal(t, "21.5", got["environment/dht/temperature"])
	assert.Equal(t, "40.0", got["environment/dht/humidity"])
	assert.Equal(t, "open", got["environment/dht/state"])
	assert.Contains(t, got, "environment/dht/heat_index")
	assert.Contains(t, got, "environment/dht/dew_point")
	assert.Len(t, got, 6)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got["environment/dht"]), &payload))
	assert.Equal(t, "2026-10-18T20:00:00Z", payload["time"])
	assert.Equal(t, 21.5, payload["temperature"])
	assert.Equal(t, 40.0, payload["humidity"])
	assert.Equal(t, true, payload["open"])

	for _, m := range f.pub.msgs {
		assert.True(t, m.retained, m.topic)
	}

	require.Len(t, f.sink, 1)
	assert.True(t, f.sink[0].Valid)
	assert.Equal(t, 1, f.watch.fed)
	require.Equal(t, 1, f.api.count())
	assert.True(t, f.api.pushes[0].Open)
	assert.Equal(t, testTime.Unix(), f.api.pushes[0].LastChange)
}

func TestReportSensorFailure(t *testing.T) {
	f := newFixture()
	f.sens.err = sensor.ErrChecksum
	f.sw.state = spacestate.Closed
	f.r.Report(context.Background())

	got := f.pub.topics()
	assert.Equal(t, map[string]string{
		"environment/dht":       `{"time":"2026-10-18T20:00:00Z","open":false}`,
		"environment/dht/state": "closed",
	}, got)
	require.Len(t, f.sink, 1)
	assert.False(t, f.sink[0].Valid)
	assert.Equal(t, 1, f.watch.fed, "the event-only report still succeeded")
}

func TestReportMQTTFailure(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("not connected")
	f.r.Report(context.Background())

	assert.Equal(t, 0, f.watch.fed)
	assert.Len(t, f.sink, 1, "other outputs still written")
	assert.Equal(t, 1, f.api.count())
}

func TestReportScript(t *testing.T) {
	f := newFixture()
	script, err := transform.New(`function format(r) { return {t: r.temperature, open: r.open}; }`)
	require.NoError(t, err)
	f.r.opts.Script = script
	f.r.Report(context.Background())

	assert.JSONEq(t, `{"t":21.5,"open":true}`, f.pub.topics()["environment/dht"])
}

func TestEvent(t *testing.T) {
	f := newFixture()
	f.r.Report(context.Background())
	f.pub.reset()

	f.r.Event(context.Background(), spacestate.Event{Time: testTime.Add(time.Minute), Kind: spacestate.EventSwitch, Open: false})

	got := f.pub.topics()
	assert.Equal(t, "closed", got["environment/dht/state"])
	assert.JSONEq(t, `{"time":"2026-10-18T20:01:00Z","kind":"switch","open":false}`, got["environment/dht/event"])

	require.Equal(t, 2, f.api.count())
	last := f.api.pushes[1]
	assert.False(t, last.Open)
	assert.Equal(t, testTime.Add(time.Minute).Unix(), last.LastChange)
	require.NotNil(t, last.Temperature, "keeps the last sensor values")
	assert.Equal(t, 21.5, *last.Temperature)
}

func TestCommands(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.True(t, f.r.command(ctx, command{name: CommandInterval, payload: "5000"}))
	assert.Equal(t, 5*time.Second, f.r.Interval())

	assert.False(t, f.r.command(ctx, command{name: CommandInterval, payload: "100"}))
	assert.False(t, f.r.command(ctx, command{name: CommandInterval, payload: "soon"}))
	assert.Equal(t, 5*time.Second, f.r.Interval())

	assert.False(t, f.r.command(ctx, command{name: "reboot"}))
	assert.Empty(t, f.pub.topics())

	assert.True(t, f.r.command(ctx, command{name: CommandReport}))
	assert.Contains(t, f.pub.topics(), "environment/dht")
}

func TestRegister(t *testing.T) {
	f := newFixture()
	rt := router.New()
	f.r.Register(rt)
	assert.Equal(t, []string{"environment/dht/cmd/#"}, rt.Filters())

	rt.Receive(spacestate.Message{Topic: "environment/dht/cmd/interval", Payload: []byte("3000\n")})
	rt.Receive(spacestate.Message{Topic: "environment/dht/cmd/report", Retained: true})

	select {
	case c := <-f.r.commands:
		assert.Equal(t, command{name: "interval", payload: "3000"}, c)
	default:
		t.Fatal("no command queued")
	}
	select {
	case c := <-f.r.commands:
		t.Errorf("retained command %v queued", c)
	default:
	}
}

func TestRun(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx) }()

	wait := func(topic string) published {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case m := <-f.pub.sent:
				if m.topic == topic {
					return m
				}
			case <-timeout:
				t.Fatalf("nothing published on %s", topic)
			}
		}
	}

	boot := wait("environment/dht/event")
	assert.Contains(t, boot.payload, `"kind":"boot"`)
	wait("environment/dht") // first cycle runs immediately

	f.sw.changes <- spacestate.Closed
	ev := wait("environment/dht/event")
	assert.Contains(t, ev.payload, `"kind":"switch"`)
	assert.Contains(t, ev.payload, `"open":false`)

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestReportAfterSensorDies(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.r.Report(ctx)
	f.sens.err = sensor.ErrChecksum
	f.r.Report(ctx)

	require.Equal(t, 2, f.api.count())
	last := f.api.pushes[1]
	assert.True(t, last.Open)
	assert.Nil(t, last.Temperature, "no stale temperature after a failed read")
	assert.Nil(t, last.Humidity)
}

type silentSensor struct{}

func (silentSensor) Read(ctx context.Context) (sensor.Sample, error) {
	<-ctx.Done()
	return sensor.Sample{}, ctx.Err()
}

func TestReportSensorTimeout(t *testing.T) {
	f := newFixture()
	f.r.opts.Sensor = silentSensor{}
	f.r.sensorTimeout = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		f.r.Report(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("report blocked on a silent sensor")
	}
	assert.Equal(t, `{"time":"2026-10-18T20:00:00Z","open":true}`, f.pub.topics()["environment/dht"])
}

func TestBootEventWaitsForPublisher(t *testing.T) {
	f := newFixture()
	f.r.SetPublisher(nil)
	ctx := context.Background()

	f.r.boot(ctx)
	assert.Empty(t, f.pub.topics())

	f.r.SetPublisher(f.pub)
	f.r.Report(ctx)
	assert.JSONEq(t, `{"time":"2026-10-18T20:00:00Z","kind":"boot","open":true}`, f.pub.topics()["environment/dht/event"])

	f.pub.reset()
	f.r.Report(ctx)
	assert.NotContains(t, f.pub.topics(), "environment/dht/event", "boot event is sent once")
}
