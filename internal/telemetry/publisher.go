package telemetry

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/reflex/internal/monitoring"
)

// DefaultListenAddr is where the telemetry gRPC server listens by default.
const DefaultListenAddr = "localhost:50061"

// Publisher owns the telemetry gRPC server.
type Publisher struct {
	addr     string
	hub      *Hub
	server   *grpc.Server
	listener net.Listener

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPublisher returns a publisher that will serve hub on addr.
func NewPublisher(addr string, hub *Hub) *Publisher {
	return &Publisher{addr: addr, hub: hub}
}

// Start binds the listener and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterService(p.server, NewServer(p.hub))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[gRPC] telemetry listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[gRPC] telemetry server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends open streams and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	// Streams block on the hub; closing it lets GracefulStop finish.
	p.hub.Close()
	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("[gRPC] telemetry server stopped")
}
