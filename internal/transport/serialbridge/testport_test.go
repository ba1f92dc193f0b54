package serialbridge

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// pipePort is a SerialPorter whose input is fed by the test through a pipe
// and whose output is captured for inspection.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu         sync.Mutex
	written    bytes.Buffer
	writeErr   error
	shortWrite bool
	closed     bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.shortWrite {
		p.shortWrite = false
		n := len(b) / 2
		p.written.Write(b[:n])
		return n, nil
	}
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.r.Close()
}

// feed writes device output lines into the port.
func (p *pipePort) feed(lines ...string) error {
	_, err := io.WriteString(p.w, strings.Join(lines, "\n")+"\n")
	return err
}

// hangUp simulates the device disappearing.
func (p *pipePort) hangUp() { p.w.Close() }

func (p *pipePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := strings.TrimRight(p.written.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (p *pipePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func openerFor(p *pipePort) PortOpener {
	return func(string, PortOptions) (SerialPorter, error) { return p, nil }
}
