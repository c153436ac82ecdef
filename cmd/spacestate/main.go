package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comail/colog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/voidwarranties/spacestate/internal/config"
	"github.com/voidwarranties/spacestate/internal/connectivity"
	"github.com/voidwarranties/spacestate/internal/discovery"
	"github.com/voidwarranties/spacestate/internal/gpio"
	"github.com/voidwarranties/spacestate/internal/handler/csv"
	"github.com/voidwarranties/spacestate/internal/influxdb"
	"github.com/voidwarranties/spacestate/internal/metrics"
	"github.com/voidwarranties/spacestate/internal/mqtt"
	"github.com/voidwarranties/spacestate/internal/pin"
	"github.com/voidwarranties/spacestate/internal/reporter"
	"github.com/voidwarranties/spacestate/internal/router"
	"github.com/voidwarranties/spacestate/internal/sensor"
	"github.com/voidwarranties/spacestate/internal/spaceapi"
	"github.com/voidwarranties/spacestate/internal/transform"
	"github.com/voidwarranties/spacestate/internal/watchdog"
)

var version = "dev"

func main() {
	colog.Register()
	colog.ParseFields(true)

	configFile := flag.String("config", "spacestate.toml", "configuration (.toml or .yaml)")
	debug := flag.Bool("debug", false, "log debug messages")
	flag.Parse()

	if *debug {
		colog.SetMinLevel(colog.LDebug)
	} else {
		colog.SetMinLevel(colog.LInfo)
	}

	conf, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backoff := connectivity.NewBackoff()
	for {
		started := time.Now()
		err := run(ctx, conf)
		if ctx.Err() != nil {
			log.Println("info: stopped")
			return
		}
		if err == nil {
			err = errors.New("stopped unexpectedly")
		}
		if time.Since(started) > time.Minute {
			backoff.Reset()
		}
		wait := backoff.Next()
		log.Printf("error: %s, restarting in %s", err, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// run wires all components and blocks until ctx is done or one of them
// fails.
func run(ctx context.Context, conf config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	var link *connectivity.Manager
	if conf.WiFi.SSID != "" {
		link = connectivity.NewManager(conf.WiFi, nil, nil)
		g.Go(func() error {
			link.Run(ctx)
			return nil
		})
		log.Printf("info: waiting for %s", conf.WiFi.Interface)
		if err := link.Wait(ctx); err != nil {
			return err
		}
	}

	src, err := sensor.Open(conf.Hardware)
	if err != nil {
		return errors.Wrap(err, "opening sensor")
	}
	dht := sensor.NewReader(src)
	defer dht.Close()

	switchPin, err := pin.Parse(conf.Hardware.StateSwitchPin)
	if err != nil {
		return err
	}
	sw, err := gpio.Open(conf.Hardware.GPIOChip, switchPin, *conf.Hardware.SwitchActiveLow, conf.Hardware.Debounce)
	if err != nil {
		return err
	}
	defer sw.Close()

	m := metrics.New()
	state := &spaceapi.State{}
	opts := reporter.Options{
		Topics:   mqtt.NewTopics(conf.MQTT.Topic),
		Retain:   *conf.MQTT.Retain,
		Interval: conf.UpdateInterval(),
		Sensor:   dht,
		Switch:   sw,
		State:    state,
		Metrics:  m,
	}

	if conf.Script != "" {
		script, err := transform.Load(conf.Script)
		if err != nil {
			return err
		}
		opts.Script = script
	}

	if conf.InfluxDB.URL != "" {
		db, err := influxdb.NewClient(conf)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Sinks = append(opts.Sinks, db)
	}

	if conf.MQTT.CSVLog != "" {
		history, err := csv.Open(conf.MQTT.CSVLog)
		if err != nil {
			return err
		}
		defer history.Stop()
		opts.Sinks = append(opts.Sinks, history)
	}

	if conf.SpaceAPI.URL != "" {
		opts.SpaceAPI = spaceapi.NewClient(conf.SpaceAPI.URL, conf.SpaceAPI.Method, conf.SpaceAPI.Token, conf.UpdateInterval())
	}

	var wd *watchdog.Watchdog
	if conf.Watchdog > 0 {
		wd = watchdog.New(conf.Watchdog)
		opts.Watchdog = wd
	}

	rep := reporter.New(opts)
	if link != nil {
		link.OnChange(func(up bool) {
			if up {
				rep.Trigger()
			}
		})
	}

	if conf.MQTTEnabled() {
		rt := router.New()
		rep.Register(rt)
		c, err := mqtt.Connect(conf, rt, func(c *mqtt.Client) {
			rep.SetPublisher(c)
			if conf.MQTT.DiscoveryPrefix != "" {
				announce(c, conf)
			}
			rep.Trigger()
		})
		if err != nil {
			return err
		}
		defer c.Disconnect()
	}

	if conf.SpaceAPI.Listen != "" {
		srv := spaceapi.NewServer(conf.SpaceAPI.Listen,
			spaceapi.Handler(conf.SpaceAPI.Space, conf.SpaceAPI.Location, state, m.Handler()))
		g.Go(func() error {
			log.Printf("info: serving on %s", conf.SpaceAPI.Listen)
			return srv.Run(ctx)
		})
	}
	if wd != nil {
		g.Go(func() error {
			wd.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		sw.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return rep.Run(ctx)
	})

	return g.Wait()
}

func announce(c *mqtt.Client, conf config.Config) {
	msgs, err := discovery.Messages(conf.MQTT.DiscoveryPrefix, conf.MQTT.ClientID, version, c.Topics())
	if err != nil {
		log.Println("error: discovery:", err)
		return
	}
	for _, msg := range msgs {
		if err := c.Publish(msg.Topic, msg.Payload, true); err != nil {
			log.Println("error: discovery:", err)
		}
	}
	log.Printf("debug: published %d discovery documents", len(msgs))
}
