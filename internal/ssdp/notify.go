package ssdp

import (
	"context"
	"net"
	"time"

	"github.com/navidrome/upnpcp/internal/log"
)

// NotifyReceiver is the multicast-bound "notify" socket: it joins the
// SSDP group on port 1900 and receives NOTIFY advertisements, applying
// the same-subnet and anti-spoofing filters before dispatch.
type NotifyReceiver struct {
	t         *Transport
	ifaceIP   net.IP
	ifaceMask net.IPMask
	onMessage func(*Message)
}

// NewNotifyReceiver prepares a socket for port on iface (ifaceIP/
// ifaceMask describe its IPv4 subnet); Open binds it and joins the
// SSDP multicast group.
func NewNotifyReceiver(iface net.Interface, ifaceIP net.IP, ifaceMask net.IPMask, port int, onMessage func(*Message)) (*NotifyReceiver, error) {
	n := &NotifyReceiver{ifaceIP: ifaceIP, ifaceMask: ifaceMask, onMessage: onMessage}
	t, err := NewTransport(TransportConfig{
		Iface:     iface,
		IfaceAddr: ifaceIP,
		BindPort:  port,
		JoinGroup: true,
		OnReceive: n.handleDatagram,
	})
	if err != nil {
		return nil, err
	}
	n.t = t
	return n, nil
}

func (n *NotifyReceiver) handleDatagram(ifaceAddr net.IP, src *net.UDPAddr, data []byte) {
	msg, err := ParseMessage(data, ifaceAddr, src, time.Now())
	if err != nil {
		log.Debug(context.Background(), "ssdp: malformed notify datagram", "err", err, "src", src.String())
		return
	}
	if !msg.ValidForNotify(n.ifaceIP, n.ifaceMask) {
		log.Debug(context.Background(), "ssdp: dropped notify", "src", src.String(), "reason", "filtered")
		return
	}
	n.onMessage(msg)
}

// Open opens the underlying socket (SO_REUSEADDR so multiple
// interfaces can each bind port 1900).
func (n *NotifyReceiver) Open() error { return n.t.Open() }

// Start begins receiving advertisements.
func (n *NotifyReceiver) Start() error { return n.t.Start() }

// Stop signals shutdown, optionally joining the receive goroutine.
func (n *NotifyReceiver) Stop(join bool) { n.t.Stop(join) }

// Close releases the socket.
func (n *NotifyReceiver) Close() error { return n.t.Close() }
