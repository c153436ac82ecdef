// Package reporter composes readings from the sensor and the state switch
// and sends them to every configured output.
package reporter

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/climate"
	"github.com/voidwarranties/spacestate/internal/config"
	"github.com/voidwarranties/spacestate/internal/metrics"
	"github.com/voidwarranties/spacestate/internal/mqtt"
	"github.com/voidwarranties/spacestate/internal/router"
	"github.com/voidwarranties/spacestate/internal/sensor"
	"github.com/voidwarranties/spacestate/internal/spaceapi"
	"github.com/voidwarranties/spacestate/internal/spacestate"
)

// SensorTimeout bounds one sensor read including its retries, so a silent
// sensor cannot stall switch events and commands.
const SensorTimeout = 20 * time.Second

// Commands accepted below <topic>/cmd/.
const (
	CommandReport   = "report"
	CommandInterval = "interval"
)

type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

type SensorReader interface {
	Read(ctx context.Context) (sensor.Sample, error)
}

type SwitchReader interface {
	State() (spacestate.SwitchState, error)
	Changes() <-chan spacestate.SwitchState
}

// Formatter replaces the default JSON payload, see package transform.
type Formatter interface {
	Format(spacestate.Reading) ([]byte, error)
}

// SpaceAPI is the rate limited Space State API client.
type SpaceAPI interface {
	Push(ctx context.Context, u spaceapi.Update) error
	Due() (time.Time, bool)
	Flush(ctx context.Context) error
	Fetch(ctx context.Context) (bool, error)
}

type Feeder interface {
	Feed()
}

type Options struct {
	Topics   mqtt.Topics
	Retain   bool
	Interval time.Duration

	Sensor SensorReader
	Switch SwitchReader

	// Optional outputs.
	Script   Formatter
	SpaceAPI SpaceAPI
	Sinks    []spacestate.Sink
	Watchdog Feeder

	State   *spaceapi.State
	Metrics *metrics.Metrics
}

type command struct {
	name    string
	payload string
}

// Reporter runs the update cycle. Only Run composes reports, so reports
// never overlap.
type Reporter struct {
	opts          Options
	interval      time.Duration
	sensorTimeout time.Duration
	commands      chan command
	now           func() time.Time

	mu  sync.RWMutex
	pub Publisher

	open bool
	// boot event waiting for the first publisher
	pendingBoot *spacestate.Event
}

func New(opts Options) *Reporter {
	if opts.State == nil {
		opts.State = &spaceapi.State{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Interval == 0 {
		opts.Interval = time.Duration(config.DefaultUpdateDelay) * time.Millisecond
	}
	return &Reporter{
		opts:          opts,
		interval:      opts.Interval,
		sensorTimeout: SensorTimeout,
		commands:      make(chan command, 8),
		now:           time.Now,
	}
}

// SetPublisher sets the MQTT output. nil disables it.
func (r *Reporter) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.pub = p
	r.mu.Unlock()
}

func (r *Reporter) publisher() Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pub
}

// Trigger requests a report outside of the regular cycle.
func (r *Reporter) Trigger() {
	r.enqueue(command{name: CommandReport})
}

// Register subscribes the command topics on rt.
func (r *Reporter) Register(rt *router.Router) {
	prefix := strings.TrimSuffix(r.opts.Topics.Command(""), "#")
	rt.Add(r.opts.Topics.Command(""), router.ReceiverFunc(func(msg spacestate.Message) {
		if msg.Retained {
			log.Printf("debug: ignoring retained command %s", msg.Topic)
			return
		}
		r.enqueue(command{
			name:    strings.TrimPrefix(msg.Topic, prefix),
			payload: strings.TrimSpace(string(msg.Payload)),
		})
	}))
}

func (r *Reporter) enqueue(c command) {
	select {
	case r.commands <- c:
	default:
		log.Printf("warning: dropping command %q, queue full", c.name)
	}
}

// Run reports immediately and then every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	r.boot(ctx)

	tick := time.NewTimer(0)
	defer tick.Stop()

	var flush *time.Timer
	defer func() {
		if flush != nil {
			flush.Stop()
		}
	}()

	var changes <-chan spacestate.SwitchState
	if r.opts.Switch != nil {
		changes = r.opts.Switch.Changes()
	}

	for {
		var flushC <-chan time.Time
		if flush != nil {
			flush.Stop()
			flush = nil
		}
		if r.opts.SpaceAPI != nil {
			if due, ok := r.opts.SpaceAPI.Due(); ok {
				flush = time.NewTimer(time.Until(due))
				flushC = flush.C
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			r.Report(ctx)
			tick.Reset(r.interval)
		case st := <-changes:
			r.Event(ctx, spacestate.Event{Time: r.now(), Kind: spacestate.EventSwitch, Open: bool(st)})
		case c := <-r.commands:
			if r.command(ctx, c) {
				if !tick.Stop() {
					select {
					case <-tick.C:
					default:
					}
				}
				tick.Reset(r.interval)
			}
		case <-flushC:
			if err := r.opts.SpaceAPI.Flush(ctx); err != nil {
				r.fail(metrics.OutputSpaceAPI, err)
			}
		}
	}
}

// command handles c and reports whether the cycle timer must be restarted.
func (r *Reporter) command(ctx context.Context, c command) bool {
	switch c.name {
	case CommandReport:
		r.Report(ctx)
		return true
	case CommandInterval:
		ms, err := strconv.Atoi(c.payload)
		if err != nil || ms < config.MinUpdateDelay {
			log.Printf("error: invalid interval %q, need at least %d ms", c.payload, config.MinUpdateDelay)
			return false
		}
		r.interval = time.Duration(ms) * time.Millisecond
		log.Printf("info: update interval set to %s", r.interval)
		return true
	default:
		log.Printf("warning: unknown command %q", c.name)
		return false
	}
}

// Interval returns the current cycle period.
func (r *Reporter) Interval() time.Duration {
	return r.interval
}

func (r *Reporter) boot(ctx context.Context) {
	r.open = r.switchState()
	if r.opts.SpaceAPI != nil {
		remote, err := r.opts.SpaceAPI.Fetch(ctx)
		if err != nil {
			log.Println("warning: unable to fetch space state:", err)
		} else if remote != r.open {
			log.Printf("info: space api reports %s, switch is %s",
				spacestate.SwitchState(remote), spacestate.SwitchState(r.open))
		}
	}
	e := spacestate.Event{Time: r.now(), Kind: spacestate.EventBoot, Open: r.open}
	r.logEvent(e)
	r.pendingBoot = &e
	r.flushBoot()
}

// flushBoot publishes the boot event once MQTT is connected. The broker
// connection usually comes up after Run started.
func (r *Reporter) flushBoot() {
	if r.pendingBoot == nil {
		return
	}
	pub := r.publisher()
	if pub == nil {
		return
	}
	r.sendEvent(pub, *r.pendingBoot)
	r.pendingBoot = nil
}

func (r *Reporter) switchState() bool {
	if r.opts.Switch == nil {
		return r.open
	}
	st, err := r.opts.Switch.State()
	if err != nil {
		r.fail(metrics.OutputSensor, errors.Wrap(err, "reading switch"))
		return r.open
	}
	return bool(st)
}

// Reading reads the sensor and the switch.
func (r *Reporter) Reading(ctx context.Context) spacestate.Reading {
	reading := spacestate.Reading{Time: r.now(), Open: r.switchState()}
	r.open = reading.Open

	if r.opts.Sensor == nil {
		return reading
	}
	readCtx, cancel := context.WithTimeout(ctx, r.sensorTimeout)
	defer cancel()
	s, err := r.opts.Sensor.Read(readCtx)
	if err != nil {
		r.fail(metrics.OutputSensor, err)
		return reading
	}
	reading.Valid = true
	reading.Temperature = s.Temperature
	reading.Humidity = s.Humidity
	reading.HeatIndex = climate.Round(climate.HeatIndex(s.Temperature, s.Humidity))
	reading.DewPoint = climate.Round(climate.DewPoint(s.Temperature, s.Humidity))
	return reading
}

// Report runs one update cycle. A failing output never stops the others.
func (r *Reporter) Report(ctx context.Context) {
	r.flushBoot()
	reading := r.Reading(ctx)
	r.opts.State.Update(reading)
	r.opts.Metrics.Observe(reading)

	ok := true
	if pub := r.publisher(); pub != nil {
		if err := r.publishReading(pub, reading); err != nil {
			r.fail(metrics.OutputMQTT, err)
			ok = false
		}
	}
	r.pushSpaceAPI(ctx)

	for _, sink := range r.opts.Sinks {
		if err := sink.Write(reading); err != nil {
			r.fail(metrics.OutputSink, err)
		}
	}

	if ok && r.opts.Watchdog != nil {
		r.opts.Watchdog.Feed()
	}
}

func (r *Reporter) publishReading(pub Publisher, reading spacestate.Reading) error {
	payload, err := r.payload(reading)
	if err != nil {
		return err
	}

	type message struct {
		topic   string
		payload []byte
	}
	var msgs []message
	if payload != nil {
		msgs = append(msgs, message{r.opts.Topics.Reading(), payload})
	}
	if reading.Valid {
		msgs = append(msgs,
			message{r.opts.Topics.Temperature(), []byte(spacestate.FormatFloat(reading.Temperature))},
			message{r.opts.Topics.Humidity(), []byte(spacestate.FormatFloat(reading.Humidity))},
			message{r.opts.Topics.HeatIndex(), []byte(spacestate.FormatFloat(reading.HeatIndex))},
			message{r.opts.Topics.DewPoint(), []byte(spacestate.FormatFloat(reading.DewPoint))},
		)
	}
	msgs = append(msgs, message{r.opts.Topics.State(), []byte(spacestate.SwitchState(reading.Open).String())})

	var firstErr error
	for _, m := range msgs {
		if err := pub.Publish(m.topic, m.payload, r.opts.Retain); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reporter) payload(reading spacestate.Reading) ([]byte, error) {
	if r.opts.Script != nil {
		b, err := r.opts.Script.Format(reading)
		if err == nil {
			return b, nil
		}
		r.fail(metrics.OutputScript, err)
	}
	return json.Marshal(spacestate.NewPayload(reading))
}

// Event reports a switch change or another event immediately.
func (r *Reporter) Event(ctx context.Context, e spacestate.Event) {
	r.flushBoot()
	r.open = e.Open
	r.opts.State.SetOpen(e.Time, e.Open)
	r.logEvent(e)
	if pub := r.publisher(); pub != nil {
		r.sendEvent(pub, e)
	}
	r.pushSpaceAPI(ctx)
}

// EventPayload is published on <topic>/event.
type EventPayload struct {
	Time string `json:"time"`
	Kind string `json:"kind"`
	Open bool   `json:"open"`
}

func (r *Reporter) logEvent(e spacestate.Event) {
	log.Printf("info: %s event, space is %s", e.Kind, spacestate.SwitchState(e.Open))
	r.opts.Metrics.Event(e)
}

func (r *Reporter) sendEvent(pub Publisher, e spacestate.Event) {
	b, err := json.Marshal(EventPayload{
		Time: e.Time.UTC().Format(time.RFC3339),
		Kind: string(e.Kind),
		Open: e.Open,
	})
	if err != nil {
		r.fail(metrics.OutputMQTT, err)
		return
	}
	if err := pub.Publish(r.opts.Topics.State(), []byte(spacestate.SwitchState(e.Open).String()), r.opts.Retain); err != nil {
		r.fail(metrics.OutputMQTT, err)
	}
	if err := pub.Publish(r.opts.Topics.Event(), b, false); err != nil {
		r.fail(metrics.OutputMQTT, err)
	}
}

func (r *Reporter) pushSpaceAPI(ctx context.Context) {
	if r.opts.SpaceAPI == nil {
		return
	}
	reading, lastChange, ok := r.opts.State.Get()
	if !ok {
		return
	}
	err := r.opts.SpaceAPI.Push(ctx, spaceapi.NewUpdate(reading, lastChange))
	switch {
	case err == spaceapi.ErrDeferred:
		log.Println("debug: space api push deferred")
	case err != nil:
		r.fail(metrics.OutputSpaceAPI, err)
	}
}

func (r *Reporter) fail(output string, err error) {
	log.Printf("error: %s: %s", output, err)
	r.opts.Metrics.Error(output)
}
