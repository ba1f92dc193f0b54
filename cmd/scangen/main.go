// Command scangen publishes canned laser scans so the controller can be
// exercised without a simulator. It speaks to the same rosbridge or serial
// link the controller uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/scan"
	"github.com/banshee-data/reflex/internal/transport"
	"github.com/banshee-data/reflex/internal/transport/rosbridge"
	"github.com/banshee-data/reflex/internal/transport/serialbridge"
	"github.com/banshee-data/reflex/internal/version"
)

var (
	transportKind = flag.String("transport", "rosbridge", "Transport: rosbridge or serial")
	bridgeURL     = flag.String("bridge", rosbridge.DefaultURL, "rosbridge websocket URL")
	serialPort    = flag.String("serial-port", "/dev/ttyUSB0", "Serial device for -transport serial")
	baud          = flag.Int("baud", serialbridge.DefaultBaudRate, "Serial baud rate")
	topic         = flag.String("topic", "/scan", "Topic to publish scans on")
	pattern       = flag.String("pattern", "", "Pattern to publish (front_wall, left_wall, right_wall, empty); empty cycles")
	period        = flag.Duration("period", 200*time.Millisecond, "Interval between scans")
)

func main() {
	flag.Parse()
	log.Print(version.String("scangen"))

	var p scan.Pattern
	if *pattern != "" {
		var err error
		if p, err = scan.ParsePattern(*pattern); err != nil {
			log.Fatalf("invalid -pattern: %v", err)
		}
	}

	t, err := dial(*transportKind)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := t.Connect(ctx); err != nil {
		log.Printf("could not connect: %v", err)
		stop()
		os.Exit(1)
	}
	defer t.Close()

	pub, err := t.Advertise(*topic, rosmsg.LaserScanType)
	if err != nil {
		log.Printf("advertise %s failed: %v", *topic, err)
		return
	}
	defer pub.Unadvertise()

	// Stop when the link goes away as well as on a signal.
	go func() {
		select {
		case <-t.Done():
			log.Print("transport lost")
			stop()
		case <-ctx.Done():
		}
	}()

	log.Printf("publishing %s scans on %s every %s", patternName(p), *topic, *period)
	src := scan.NewSyntheticSource(p, *period)
	_ = src.Run(ctx, pub)
}

func dial(kind string) (transport.Transport, error) {
	switch kind {
	case "rosbridge":
		return rosbridge.NewClient(*bridgeURL), nil
	case "serial":
		opts, err := serialbridge.PortOptions{BaudRate: *baud}.Normalize()
		if err != nil {
			return nil, err
		}
		return serialbridge.New(*serialPort, opts), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: expected rosbridge or serial", kind)
	}
}

func patternName(p scan.Pattern) string {
	if p == "" {
		return "cycling"
	}
	return string(p)
}
