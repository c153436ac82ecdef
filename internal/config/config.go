package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/voidwarranties/spacestate/internal/pin"
)

const (
	DefaultMQTTPort       = 1883
	DefaultMQTTTopic      = "environment/dht"
	DefaultUpdateDelay    = 60000 // ms
	DefaultStateSwitchPin = "D1"
	DefaultDHTPin         = "D2"
	DefaultInterface      = "wlan0"
	DefaultConnectCommand = "nmcli device wifi connect {ssid} password {password} ifname {interface}"
	DefaultCheckInterval  = 10 * time.Second
	DefaultGPIOChip       = "gpiochip0"
	DefaultSerialBaud     = 115200
	DefaultDebounce       = 50 * time.Millisecond

	// MinUpdateDelay is the shortest cycle the DHT22 can serve with fresh data.
	MinUpdateDelay = 2000 // ms
)

// Sensor source kinds.
const (
	SensorIIO    = "iio"
	SensorSerial = "serial"
	SensorCSV    = "csv"
)

type Config struct {
	WiFi        WiFi
	MQTT        MQTT
	SpaceAPI    SpaceAPI `toml:"spaceapi" yaml:"spaceapi"`
	UpdateDelay int      `toml:"update_delay" yaml:"update_delay"`
	Hardware    Hardware
	InfluxDB    InfluxDB
	Script      string
	Watchdog    time.Duration
}

type WiFi struct {
	SSID           string
	Password       string
	Interface      string
	ConnectCommand string        `toml:"connect_command" yaml:"connect_command"`
	CheckInterval  time.Duration `toml:"check_interval" yaml:"check_interval"`
}

type MQTT struct {
	Server            string
	Port              int
	User              string
	Password          string
	Topic             string
	ClientID          string `toml:"client_id" yaml:"client_id"`
	QoS               byte   `toml:"qos" yaml:"qos"`
	Retain            *bool
	TLS               bool   `toml:"tls" yaml:"tls"`
	TLSServerCert     string `toml:"tls_server_cert" yaml:"tls_server_cert"`
	TLSServerInsecure bool   `toml:"tls_server_insecure" yaml:"tls_server_insecure"`
	DiscoveryPrefix   string `toml:"discovery_prefix" yaml:"discovery_prefix"`
	CSVLog            string `toml:"csv_log" yaml:"csv_log"`
}

type SpaceAPI struct {
	URL      string
	Method   string
	Token    string
	Listen   string
	Space    string
	Location string
}

type Hardware struct {
	StateSwitchPin  string        `toml:"state_switch_pin" yaml:"state_switch_pin"`
	DHTPin          string        `toml:"dht_pin" yaml:"dht_pin"`
	GPIOChip        string        `toml:"gpio_chip" yaml:"gpio_chip"`
	Sensor          string        `toml:"sensor" yaml:"sensor"`
	IIODevice       string        `toml:"iio_device" yaml:"iio_device"`
	SerialPort      string        `toml:"serial_port" yaml:"serial_port"`
	SerialBaud      int           `toml:"serial_baud" yaml:"serial_baud"`
	ReplayFile      string        `toml:"replay_file" yaml:"replay_file"`
	SwitchActiveLow *bool         `toml:"switch_active_low" yaml:"switch_active_low"`
	Debounce        time.Duration `toml:"debounce" yaml:"debounce"`
}

type InfluxDB struct {
	URL             string
	User            string
	Password        string
	Database        string
	RetentionPolicy string `toml:"retention_policy" yaml:"retention_policy"`
}

// Load reads the config file, applies defaults and validates the result.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	var conf Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, &conf)
	default:
		err = decodeTOML(data, &conf)
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}

	ApplyDefaults(&conf)
	if err := Validate(conf); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return conf, nil
}

func decodeTOML(data []byte, conf *Config) error {
	md, err := toml.Decode(string(data), conf)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

func decodeYAML(data []byte, conf *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyDefaults fills every unset value with the documented default.
func ApplyDefaults(conf *Config) {
	if conf.WiFi.Interface == "" {
		conf.WiFi.Interface = DefaultInterface
	}
	if conf.WiFi.ConnectCommand == "" {
		conf.WiFi.ConnectCommand = DefaultConnectCommand
	}
	if conf.WiFi.CheckInterval == 0 {
		conf.WiFi.CheckInterval = DefaultCheckInterval
	}

	if conf.MQTT.Port == 0 {
		conf.MQTT.Port = DefaultMQTTPort
	}
	if conf.MQTT.Topic == "" {
		conf.MQTT.Topic = DefaultMQTTTopic
	}
	conf.MQTT.Topic = strings.TrimSuffix(conf.MQTT.Topic, "/")
	if conf.MQTT.ClientID == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = fmt.Sprintf("%06d", time.Now().Nanosecond()/1000)
		}
		conf.MQTT.ClientID = "spacestate-" + host
	}
	if conf.MQTT.Retain == nil {
		retain := true
		conf.MQTT.Retain = &retain
	}

	if conf.SpaceAPI.Method == "" {
		conf.SpaceAPI.Method = "POST"
	}
	conf.SpaceAPI.Method = strings.ToUpper(conf.SpaceAPI.Method)

	if conf.UpdateDelay == 0 {
		conf.UpdateDelay = DefaultUpdateDelay
	}

	if conf.Hardware.StateSwitchPin == "" {
		conf.Hardware.StateSwitchPin = DefaultStateSwitchPin
	}
	if conf.Hardware.DHTPin == "" {
		conf.Hardware.DHTPin = DefaultDHTPin
	}
	if conf.Hardware.GPIOChip == "" {
		conf.Hardware.GPIOChip = DefaultGPIOChip
	}
	if conf.Hardware.Sensor == "" {
		conf.Hardware.Sensor = SensorIIO
	}
	if conf.Hardware.SerialBaud == 0 {
		conf.Hardware.SerialBaud = DefaultSerialBaud
	}
	if conf.Hardware.SwitchActiveLow == nil {
		activeLow := true
		conf.Hardware.SwitchActiveLow = &activeLow
	}
	if conf.Hardware.Debounce == 0 {
		conf.Hardware.Debounce = DefaultDebounce
	}
}

// Validate checks invariants that the type system cannot express.
func Validate(conf Config) error {
	if conf.MQTT.Port < 1 || conf.MQTT.Port > 65535 {
		return errors.Errorf("mqtt.port %d out of range", conf.MQTT.Port)
	}
	if conf.MQTT.QoS > 2 {
		return errors.Errorf("mqtt.qos must be 0, 1 or 2, got %d", conf.MQTT.QoS)
	}
	if strings.ContainsAny(conf.MQTT.Topic, "#+") {
		return errors.Errorf("mqtt.topic %q must not contain wildcards", conf.MQTT.Topic)
	}
	if conf.UpdateDelay < MinUpdateDelay {
		return errors.Errorf("update_delay must be at least %d ms, got %d", MinUpdateDelay, conf.UpdateDelay)
	}
	switch conf.SpaceAPI.Method {
	case "POST", "PUT":
	default:
		return errors.Errorf("spaceapi.method must be POST or PUT, got %q", conf.SpaceAPI.Method)
	}

	if _, err := pin.Parse(conf.Hardware.StateSwitchPin); err != nil {
		return errors.Wrap(err, "hardware.state_switch_pin")
	}
	if _, err := pin.Parse(conf.Hardware.DHTPin); err != nil {
		return errors.Wrap(err, "hardware.dht_pin")
	}
	switch conf.Hardware.Sensor {
	case SensorIIO:
	case SensorSerial:
		if conf.Hardware.SerialPort == "" {
			return errors.New("hardware.serial_port is required for the serial sensor")
		}
	case SensorCSV:
		if conf.Hardware.ReplayFile == "" {
			return errors.New("hardware.replay_file is required for the csv sensor")
		}
	default:
		return errors.Errorf("unknown hardware.sensor %q", conf.Hardware.Sensor)
	}

	if conf.InfluxDB.URL != "" && conf.InfluxDB.Database == "" {
		return errors.New("influxdb.database is required when influxdb.url is set")
	}
	if conf.Watchdog < 0 {
		return errors.New("watchdog must not be negative")
	}
	return nil
}

// UpdateInterval returns UpdateDelay as a duration.
func (c Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateDelay) * time.Millisecond
}

// MQTTEnabled reports whether a broker is configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTT.Server != ""
}

// BrokerURL returns the paho broker URL for MQTT.Server and MQTT.Port.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.MQTT.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.Server, c.MQTT.Port)
}
