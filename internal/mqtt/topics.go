package mqtt

// Availability payloads on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics derives the node's topic tree from the configured base topic.
type Topics struct {
	Base string
}

func NewTopics(base string) Topics { return Topics{Base: base} }

// Reading is the JSON document of a whole update cycle.
func (t Topics) Reading() string     { return t.Base }
func (t Topics) Temperature() string { return t.Base + "/temperature" }
func (t Topics) Humidity() string    { return t.Base + "/humidity" }
func (t Topics) HeatIndex() string   { return t.Base + "/heat_index" }
func (t Topics) DewPoint() string    { return t.Base + "/dew_point" }
func (t Topics) State() string       { return t.Base + "/state" }
func (t Topics) Event() string       { return t.Base + "/event" }
func (t Topics) Status() string      { return t.Base + "/status" }

// Command returns the topic of a single command, or the wildcard filter
// for all commands when name is empty.
func (t Topics) Command(name string) string {
	if name == "" {
		return t.Base + "/cmd/#"
	}
	return t.Base + "/cmd/" + name
}
