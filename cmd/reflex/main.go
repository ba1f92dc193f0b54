// Command reflex is a reactive obstacle-avoidance controller. It listens to
// a laser scan topic, steers away from whatever is close in front, and
// publishes a velocity command every tick.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/reflex/internal/config"
	"github.com/banshee-data/reflex/internal/controller"
	"github.com/banshee-data/reflex/internal/decisionlog"
	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/scan"
	"github.com/banshee-data/reflex/internal/telemetry"
	"github.com/banshee-data/reflex/internal/transport"
	"github.com/banshee-data/reflex/internal/transport/loopback"
	"github.com/banshee-data/reflex/internal/transport/rosbridge"
	"github.com/banshee-data/reflex/internal/transport/serialbridge"
	"github.com/banshee-data/reflex/internal/version"
)

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Path to a controller config JSON file (empty uses built-in defaults)")
	transportKind = flag.String("transport", "rosbridge", "Transport: rosbridge, serial or synthetic")
	bridgeURL     = flag.String("bridge", rosbridge.DefaultURL, "rosbridge websocket URL")
	serialPort    = flag.String("serial-port", "/dev/ttyUSB0", "Serial device for -transport serial")
	baud          = flag.Int("baud", serialbridge.DefaultBaudRate, "Serial baud rate for -transport serial")
	debugListen   = flag.String("debug-listen", "", "Address for the /debug/ HTTP server (disabled if empty)")
	grpcListen    = flag.String("grpc-listen", telemetry.DefaultListenAddr, "Address for the telemetry gRPC server (disabled if empty)")
	dbPath        = flag.String("db", "", "sqlite file to record decisions to (disabled if empty)")
	pattern       = flag.String("pattern", "", "Synthetic scan pattern; empty cycles through all of them")
	scanPeriod    = flag.Duration("scan-period", 200*time.Millisecond, "Interval between synthetic scans")
	versionFlag   = flag.Bool("version", false, "Print version and exit")
)

// options is everything run needs, gathered from the flags.
type options struct {
	cfg         *config.ControllerConfig
	transport   string
	bridgeURL   string
	serialPort  string
	baud        int
	debugListen string
	grpcListen  string
	dbPath      string
	pattern     scan.Pattern
	scanPeriod  time.Duration
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String("reflex"))
		return
	}
	log.Print(version.String("reflex"))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var p scan.Pattern
	if *pattern != "" {
		if p, err = scan.ParsePattern(*pattern); err != nil {
			log.Fatalf("invalid -pattern: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, options{
		cfg:         cfg,
		transport:   *transportKind,
		bridgeURL:   *bridgeURL,
		serialPort:  *serialPort,
		baud:        *baud,
		debugListen: *debugListen,
		grpcListen:  *grpcListen,
		dbPath:      *dbPath,
		pattern:     p,
		scanPeriod:  *scanPeriod,
	})
	if err != nil {
		if errors.Is(err, controller.ErrConnection) {
			log.Printf("could not connect: %v", err)
		} else {
			log.Printf("controller stopped: %v", err)
		}
		stop()
		os.Exit(1)
	}
	log.Print("shut down cleanly")
}

// run brings up the optional services, runs the controller until ctx ends
// or the transport is lost, and tears everything down again.
func run(ctx context.Context, o options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t, err := newTransport(o)
	if err != nil {
		return err
	}

	// The store must outlive the recorder's final flush.
	var store *decisionlog.Store
	defer func() {
		if store != nil {
			store.Close()
		}
	}()

	// Early returns must stop the background goroutines before waiting on them.
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if bus, ok := t.(*loopback.Bus); ok {
		src := scan.NewSyntheticSource(o.pattern, o.scanPeriod)
		inj := &injector{bus: bus, topic: o.cfg.GetScanTopic()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(ctx, inj); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("synthetic source stopped: %v", err)
			}
		}()
	}

	hub := telemetry.NewHub()
	defer hub.Close()

	opts := controller.Options{
		Config: o.cfg,
		OnPublish: func(tick uint64, cmd rosmsg.Twist, sent time.Time) {
			hub.Broadcast(telemetry.Command{Tick: tick, Linear: cmd.Linear.X, Angular: cmd.Angular.Z, Sent: sent})
		},
	}

	if o.dbPath != "" {
		store, err = decisionlog.Open(o.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open decision log: %w", err)
		}

		rec := decisionlog.NewRecorder(store, o.cfg.GetRecordBuffer())
		opts.Recorder = rec
		log.Printf("recording decisions to %s as run %s", o.dbPath, rec.RunID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Run(ctx); err != nil {
				log.Printf("decision recorder: %v", err)
			}
			s := rec.Stats()
			log.Printf("decision log: %d written, %d dropped, %d failed", s.Written, s.Dropped, s.Failed)
		}()
	}

	ctrl := controller.New(t, opts)

	if o.grpcListen != "" {
		pub := telemetry.NewPublisher(o.grpcListen, hub)
		if err := pub.Start(); err != nil {
			return fmt.Errorf("failed to start telemetry server: %w", err)
		}
		defer pub.Stop()
	}

	if o.debugListen != "" {
		mux := http.NewServeMux()
		ctrl.AttachAdminRoutes(mux)
		hub.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		server := &http.Server{Addr: o.debugListen, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("debug server: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown error: %v", err)
			}
		}()
		log.Printf("debug routes on http://%s/debug/", o.debugListen)
	}

	err = ctrl.Run(ctx)
	cancel()
	return err
}

// loadConfig reads path. A missing file at the default location falls back
// to the built-in defaults so the binary runs from any directory.
func loadConfig(path string) (*config.ControllerConfig, error) {
	if path == "" {
		return config.EmptyControllerConfig(), nil
	}
	cfg, err := config.LoadControllerConfig(path)
	if err != nil && path == config.DefaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		log.Printf("%s not found, using built-in defaults", path)
		return config.EmptyControllerConfig(), nil
	}
	return cfg, err
}

func newTransport(o options) (transport.Transport, error) {
	switch o.transport {
	case "rosbridge":
		return rosbridge.NewClient(o.bridgeURL), nil
	case "serial":
		opts, err := serialbridge.PortOptions{BaudRate: o.baud}.Normalize()
		if err != nil {
			return nil, err
		}
		return serialbridge.New(o.serialPort, opts), nil
	case "synthetic":
		return loopback.NewBus(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: expected rosbridge, serial or synthetic", o.transport)
	}
}

// injector feeds synthetic scans into the loopback bus as if the robot had
// published them.
type injector struct {
	bus   *loopback.Bus
	topic string
}

func (i *injector) Publish(_ context.Context, msg any) error {
	return i.bus.Inject(i.topic, msg)
}
