package spacestate

import "time"

// A Reading is the state reported once per update cycle.
type Reading struct {
	Time        time.Time
	Temperature float32 // °C
	Humidity    float32 // %RH
	HeatIndex   float32 // °C
	DewPoint    float32 // °C
	Open        bool
	// Valid is false when the sensor could not be read; only Open is meaningful then.
	Valid bool
}

// SwitchState is the position of the space state switch.
type SwitchState bool

const (
	Closed SwitchState = false
	Open   SwitchState = true
)

func (s SwitchState) String() string {
	if s {
		return "open"
	}
	return "closed"
}

// EventKind tells what caused an Event.
type EventKind string

const (
	EventBoot    EventKind = "boot"
	EventSwitch  EventKind = "switch"
	EventCommand EventKind = "command"
)

// An Event is reported immediately, outside of the update cycle.
type Event struct {
	Time time.Time
	Kind EventKind
	Open bool
}

// A Sink receives every reading. Sinks are optional outputs such as
// InfluxDB or the CSV history.
type Sink interface {
	Write(Reading) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Reading) error

func (f SinkFunc) Write(r Reading) error { return f(r) }

// A Message is an incoming MQTT message.
type Message struct {
	Time     time.Time
	Topic    string
	Payload  []byte
	Retained bool
}
