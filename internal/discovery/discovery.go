// Package discovery builds Home Assistant MQTT discovery documents so the
// node shows up without manual configuration.
package discovery

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/voidwarranties/spacestate/internal/mqtt"
)

// Entity uses the abbreviated keys Home Assistant accepts in discovery
// payloads.
type Entity struct {
	AvailabilityTopic string  `json:"avty_t"`
	DevClass          string  `json:"dev_cla,omitempty"`
	Name              string  `json:"name"`
	StateClass        string  `json:"stat_cla,omitempty"`
	StateTopic        string  `json:"stat_t"`
	UniqueID          string  `json:"uniq_id"`
	Unit              string  `json:"unit_of_meas,omitempty"`
	PayloadOn         string  `json:"pl_on,omitempty"`
	PayloadOff        string  `json:"pl_off,omitempty"`
	Device            *Device `json:"dev"`
}

type Device struct {
	IDs     []string `json:"ids"`
	Name    string   `json:"name"`
	Version string   `json:"sw,omitempty"`
	Model   string   `json:"mdl"`
	Vendor  string   `json:"mf"`
}

// A Message is one retained discovery document.
type Message struct {
	Topic   string
	Payload []byte
}

var unsafeID = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// NodeID turns a client id into a discovery node id.
func NodeID(clientID string) string {
	return strings.Trim(unsafeID.ReplaceAllString(clientID, "_"), "_")
}

// Messages returns the discovery documents for all entities of the node.
func Messages(prefix, clientID, version string, topics mqtt.Topics) ([]Message, error) {
	node := NodeID(clientID)
	dev := &Device{
		IDs:     []string{node},
		Name:    clientID,
		Version: version,
		Model:   "DHT22 space state node",
		Vendor:  "spacestate",
	}

	sensor := func(object, name, class, unit, topic string) (string, Entity) {
		return prefix + "/sensor/" + node + "/" + object + "/config", Entity{
			AvailabilityTopic: topics.Status(),
			DevClass:          class,
			Name:              name,
			StateClass:        "measurement",
			StateTopic:        topic,
			UniqueID:          node + "_" + object,
			Unit:              unit,
			Device:            dev,
		}
	}

	type doc struct {
		topic  string
		entity Entity
	}
	var docs []doc
	for _, s := range []struct{ object, name, class, unit, topic string }{
		{"temperature", "Temperature", "temperature", "°C", topics.Temperature()},
		{"humidity", "Humidity", "humidity", "%", topics.Humidity()},
		{"heat_index", "Heat index", "temperature", "°C", topics.HeatIndex()},
		{"dew_point", "Dew point", "temperature", "°C", topics.DewPoint()},
	} {
		t, e := sensor(s.object, s.name, s.class, s.unit, s.topic)
		docs = append(docs, doc{t, e})
	}
	docs = append(docs, doc{
		topic: prefix + "/binary_sensor/" + node + "/state/config",
		entity: Entity{
			AvailabilityTopic: topics.Status(),
			DevClass:          "door",
			Name:              "Space open",
			StateTopic:        topics.State(),
			UniqueID:          node + "_state",
			PayloadOn:         "open",
			PayloadOff:        "closed",
			Device:            dev,
		},
	})

	msgs := make([]Message, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d.entity)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Topic: d.topic, Payload: b})
	}
	return msgs, nil
}
