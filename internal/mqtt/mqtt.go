package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/config"
	"github.com/voidwarranties/spacestate/internal/router"
	"github.com/voidwarranties/spacestate/internal/spacestate"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesce        = 250 // ms
)

var ErrTimeout = errors.New("mqtt timeout")

func options(conf config.Config, topics Topics) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(conf.BrokerURL())

	if conf.MQTT.User != "" {
		opts.SetUsername(conf.MQTT.User)
	}
	if conf.MQTT.Password != "" {
		opts.SetPassword(conf.MQTT.Password)
	}

	opts.SetClientID(conf.MQTT.ClientID)

	if conf.MQTT.TLS {
		var certs *x509.CertPool
		if conf.MQTT.TLSServerCert != "" {
			certs = x509.NewCertPool()
			if !certs.AppendCertsFromPEM([]byte(conf.MQTT.TLSServerCert)) {
				return nil, errors.New("unable to add tls_server_cert to CertPool")
			}
		}
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: conf.MQTT.TLSServerInsecure,
			RootCAs:            certs,
		})
	}

	opts.SetWill(topics.Status(), StatusOffline, 1, true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	return opts, nil
}

// Client publishes the node's topics and dispatches subscribed commands to
// a router.
type Client struct {
	client mqtt.Client
	topics Topics
	qos    byte
	router *router.Router
}

// Connect connects to the broker. On every (re)connect the node announces
// itself online, subscribes all router filters and calls onConnect.
func Connect(conf config.Config, r *router.Router, onConnect func(*Client)) (*Client, error) {
	topics := NewTopics(conf.MQTT.Topic)
	opts, err := options(conf, topics)
	if err != nil {
		return nil, err
	}

	c := &Client{
		topics: topics,
		qos:    conf.MQTT.QoS,
		router: r,
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("info: connected to %s", conf.BrokerURL())
		if err := c.Publish(topics.Status(), []byte(StatusOnline), true); err != nil {
			log.Print("error: on connect: ", err)
		}
		if err := c.subscribe(); err != nil {
			log.Print("error: on connect: ", err)
		}
		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("warning: connection to %s lost: %s", conf.BrokerURL(), err)
	})

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, pkgerrors.Wrapf(ErrTimeout, "connecting to %s", conf.BrokerURL())
	}
	if err := tok.Error(); err != nil {
		return nil, pkgerrors.Wrapf(err, "connecting to %s", conf.BrokerURL())
	}
	return c, nil
}

func (c *Client) subscribe() error {
	if c.router == nil {
		return nil
	}
	for _, filter := range c.router.Filters() {
		tok := c.client.Subscribe(filter, c.qos, func(_ mqtt.Client, message mqtt.Message) {
			c.router.Receive(spacestate.Message{
				Time:     time.Now(),
				Topic:    message.Topic(),
				Payload:  message.Payload(),
				Retained: message.Retained(),
			})
		})
		if !tok.WaitTimeout(publishTimeout) {
			return pkgerrors.Wrapf(ErrTimeout, "subscribing %s", filter)
		}
		if err := tok.Error(); err != nil {
			return pkgerrors.Wrapf(err, "subscribing %s", filter)
		}
		log.Printf("debug: subscribed %s", filter)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to acknowledge
// it (QoS > 0) or for the message to be written (QoS 0).
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	tok := c.client.Publish(topic, c.qos, retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return pkgerrors.Wrapf(ErrTimeout, "publishing %s", topic)
	}
	return pkgerrors.Wrapf(tok.Error(), "publishing %s", topic)
}

func (c *Client) Topics() Topics { return c.topics }

func (c *Client) IsConnected() bool { return c.client.IsConnected() }

// Disconnect marks the node offline and closes the connection.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		if err := c.Publish(c.topics.Status(), []byte(StatusOffline), true); err != nil {
			log.Print("error: ", err)
		}
	}
	c.client.Disconnect(quiesce)
}
