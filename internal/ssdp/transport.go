// Package ssdp implements the SSDP (Simple Service Discovery Protocol)
// transport: a per-interface "search" socket and a per-interface
// "notify" socket. Both are thin façades over a common Transport type,
// parameterized by a small config plus a capability-typed receive
// callback.
package ssdp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/navidrome/upnpcp/internal/log"
)

// MulticastAddr is the SSDP multicast group and well-known port.
const MulticastAddr = "239.255.255.250:1900"

const multicastTTL = 4
const readBufferSize = 1500

// state tracks a Transport's lifecycle: closed, open, running, stopping.
type state int

const (
	stateClosed state = iota
	stateOpen
	stateRunning
	stateStopping
)

// ReceiveFunc is invoked once per inbound datagram, on a dedicated
// receive goroutine owned by the Transport. interfaceAddr is the
// configured IPv4 address of the socket's interface; source is the
// datagram's peer.
type ReceiveFunc func(interfaceAddr net.IP, source *net.UDPAddr, data []byte)

// TransportConfig configures one Transport instance.
type TransportConfig struct {
	// Iface is the network interface this socket is scoped to.
	Iface net.Interface
	// IfaceAddr is the chosen IPv4 address of Iface.
	IfaceAddr net.IP
	// BindPort is 0 for an ephemeral search socket, 1900 for the
	// multicast notify socket.
	BindPort int
	// JoinGroup, when true, joins MulticastAddr's group on Iface
	// (the notify receiver); when false the socket only sends/receives
	// unicast (the search server).
	JoinGroup bool
	// OnReceive is called for every datagram accepted by the socket.
	OnReceive ReceiveFunc
}

// Transport is a single UDP socket plus its receive goroutine, shared
// by the search server and the notify receiver.
type Transport struct {
	cfg  TransportConfig
	conn *ipv4.PacketConn
	raw  net.PacketConn

	mu      sync.Mutex
	st      state
	closing bool

	wg sync.WaitGroup
}

// NewTransport validates cfg and returns an unopened Transport.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.OnReceive == nil {
		return nil, fmt.Errorf("ssdp: OnReceive callback required")
	}
	if cfg.IfaceAddr == nil || cfg.IfaceAddr.To4() == nil {
		return nil, fmt.Errorf("ssdp: IfaceAddr must be an IPv4 address")
	}
	return &Transport{cfg: cfg, st: stateClosed}, nil
}

// Open creates and configures the socket. It does not start receiving.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateClosed {
		return fmt.Errorf("ssdp: transport already open")
	}

	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: t.cfg.BindPort}
	if t.cfg.JoinGroup {
		// Listening on the group address makes the net package bind
		// the wildcard address with SO_REUSEADDR set, so the notify
		// sockets of several interfaces can share the same port.
		laddr.IP = net.ParseIP("239.255.255.250")
	}
	pc, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("ssdp: listen udp4: %w", err)
	}

	p := ipv4.NewPacketConn(pc)
	if err := p.SetMulticastInterface(&t.cfg.Iface); err != nil {
		pc.Close()
		return fmt.Errorf("ssdp: set multicast interface: %w", err)
	}
	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		pc.Close()
		return fmt.Errorf("ssdp: set multicast ttl: %w", err)
	}
	if err := p.SetControlMessage(ipv4.FlagDst, true); err != nil {
		// Non-fatal: the control message is never read; interfaceAddr
		// is always cfg.IfaceAddr.
		log.Debug(context.Background(), "ssdp: set control message failed", "err", err)
	}

	if t.cfg.JoinGroup {
		group := &net.UDPAddr{IP: net.ParseIP("239.255.255.250")}
		if err := p.JoinGroup(&t.cfg.Iface, group); err != nil {
			pc.Close()
			return fmt.Errorf("ssdp: join multicast group: %w", err)
		}
	}

	if err := pc.SetReadBuffer(readBufferSize * 64); err != nil {
		log.Debug(context.Background(), "ssdp: set read buffer failed", "err", err)
	}

	t.raw = pc
	t.conn = p
	t.st = stateOpen
	return nil
}

// Start spawns the receive goroutine.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.st != stateOpen {
		t.mu.Unlock()
		return fmt.Errorf("ssdp: transport not open")
	}
	t.st = stateRunning
	t.mu.Unlock()

	t.wg.Add(1)
	go t.receiveLoop()
	return nil
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		t.mu.Lock()
		closing := t.closing
		t.mu.Unlock()
		if closing {
			return
		}

		n, _, src, err := t.conn.ReadFrom(buf)
		if err != nil {
			// A receive unblocked by Close must observe the shutdown
			// flag and exit silently rather than surface the socket
			// error.
			t.mu.Lock()
			closing = t.closing
			t.mu.Unlock()
			if closing {
				return
			}
			log.Warn(context.Background(), "ssdp: read error", err)
			return
		}

		peer, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.cfg.OnReceive(t.cfg.IfaceAddr, peer, data)
	}
}

// Send writes a datagram to addr.
func (t *Transport) Send(data []byte, addr *net.UDPAddr) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ssdp: transport not open")
	}
	_, err := conn.WriteTo(data, nil, addr)
	return err
}

// Stop signals shutdown; if join is true it blocks until the receive
// goroutine has exited.
func (t *Transport) Stop(join bool) {
	t.mu.Lock()
	if t.st != stateRunning && t.st != stateOpen {
		t.mu.Unlock()
		return
	}
	t.st = stateStopping
	t.closing = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if join {
		t.wg.Wait()
	}
}

// Close releases the socket. Safe to call after Stop.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.raw != nil {
		err := t.raw.Close()
		t.raw = nil
		t.conn = nil
		t.st = stateClosed
		if err != nil && !isClosedErr(err) {
			return err
		}
	}
	t.st = stateClosed
	return nil
}

func isClosedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}
