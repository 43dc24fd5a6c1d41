package midi

import (
	"fmt"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// PortSink sends events straight to a hardware or virtual output port
// through the registered gomidi driver. The binary must blank-import a
// driver (rtmididrv) for any ports to exist.
type PortSink struct {
	name string
	mu   sync.Mutex
	port drivers.Out
	send func(gomidi.Message) error
}

// OpenPort opens the first output port whose name contains name, or the
// first available port when name is empty. Ports carry client suffixes like
// "(28:0)", so substring match is what users want.
func OpenPort(name string) (*PortSink, error) {
	outs := gomidi.GetOutPorts()
	if len(outs) == 0 {
		return nil, fmt.Errorf("%w: no output ports", ErrSink)
	}
	port := outs[0]
	if name != "" {
		found := false
		for _, p := range outs {
			if strings.Contains(p.String(), name) {
				port = p
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no port matching %q", ErrSink, name)
		}
	}
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrSink, port.String(), err)
	}
	return &PortSink{name: port.String(), port: port, send: send}, nil
}

// Name returns the resolved port name.
func (p *PortSink) Name() string { return p.name }

// Send converts and sends immediately; the scheduler has already waited out
// the deadline by the time it calls here.
func (p *PortSink) Send(ev Event, _ time.Time) error {
	msg := ev.Message()
	if msg == nil {
		return fmt.Errorf("%w: unsendable event type %#x", ErrSink, ev.Type)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.send == nil {
		return fmt.Errorf("%w: %q closed", ErrSink, p.name)
	}
	if err := p.send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSink, err)
	}
	return nil
}

// FlushAllNotesOff sends the all-notes-off controller to the given
// channels, all 16 when none are given.
func (p *PortSink) FlushAllNotesOff(channels ...uint8) error {
	if len(channels) == 0 {
		channels = allChannels()
	}
	now := time.Now()
	var firstErr error
	for _, ch := range channels {
		ev := Event{Type: CC, Channel: ch, Controller: ccAllNotesOff}
		if err := p.Send(ev, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the port. Safe to call twice.
func (p *PortSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.send == nil {
		return nil
	}
	p.send = nil
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("%w: close %q: %v", ErrSink, p.name, err)
	}
	return nil
}

// OutPorts lists the names of every available output port.
func OutPorts() []string {
	outs := gomidi.GetOutPorts()
	names := make([]string, 0, len(outs))
	for _, p := range outs {
		names = append(names, p.String())
	}
	return names
}

func allChannels() []uint8 {
	chs := make([]uint8, 16)
	for i := range chs {
		chs[i] = uint8(i)
	}
	return chs
}
