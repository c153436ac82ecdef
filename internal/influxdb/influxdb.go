// Package influxdb writes readings to an InfluxDB 1.x database.
package influxdb

import (
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/config"
	"github.com/voidwarranties/spacestate/internal/spacestate"
)

const writeTimeout = 10 * time.Second

// Client is a spacestate.Sink. Every reading becomes one point per value,
// each with a single "value" field and a "node" tag.
type Client struct {
	client          client.Client
	database        string
	retentionPolicy string
	node            string
}

func NewClient(conf config.Config) (*Client, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     conf.InfluxDB.URL,
		Username: conf.InfluxDB.User,
		Password: conf.InfluxDB.Password,
		Timeout:  writeTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "influxdb client")
	}
	return &Client{
		client:          c,
		database:        conf.InfluxDB.Database,
		retentionPolicy: conf.InfluxDB.RetentionPolicy,
		node:            conf.MQTT.ClientID,
	}, nil
}

func (c *Client) Write(r spacestate.Reading) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:        c.database,
		RetentionPolicy: c.retentionPolicy,
		Precision:       "s",
	})
	if err != nil {
		return err
	}
	pts, err := points(r, map[string]string{"node": c.node})
	if err != nil {
		return err
	}
	bp.AddPoints(pts)
	return errors.Wrap(c.client.Write(bp), "influxdb write")
}

func (c *Client) Close() error {
	return c.client.Close()
}

func points(r spacestate.Reading, tags map[string]string) ([]*client.Point, error) {
	values := []struct {
		measurement string
		value       interface{}
	}{
		{"space_open", boolInt(r.Open)},
	}
	if r.Valid {
		values = append(values, []struct {
			measurement string
			value       interface{}
		}{
			{"temperature", *spacestate.Float(r.Temperature)},
			{"humidity", *spacestate.Float(r.Humidity)},
			{"heat_index", *spacestate.Float(r.HeatIndex)},
			{"dew_point", *spacestate.Float(r.DewPoint)},
		}...)
	}

	pts := make([]*client.Point, 0, len(values))
	for _, v := range values {
		pt, err := client.NewPoint(v.measurement, tags, map[string]interface{}{"value": v.value}, r.Time)
		if err != nil {
			return nil, errors.Wrapf(err, "point %s", v.measurement)
		}
		pts = append(pts, pt)
	}
	return pts, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
