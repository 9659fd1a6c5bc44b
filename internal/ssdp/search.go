package ssdp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/navidrome/upnpcp/internal/httpmsg"
	"github.com/navidrome/upnpcp/internal/log"
)

// SearchServer is the unicast-bound "search" socket: it sends
// M-SEARCH requests and receives the unicast replies.
type SearchServer struct {
	t         *Transport
	userAgent string
	onMessage func(*Message)
}

// NewSearchServer prepares an ephemeral-port socket on iface (bound by
// Open) and delivers every accepted datagram (after the generic
// validity check) to onMessage.
func NewSearchServer(iface net.Interface, ifaceAddr net.IP, userAgent string, onMessage func(*Message)) (*SearchServer, error) {
	s := &SearchServer{userAgent: userAgent, onMessage: onMessage}
	t, err := NewTransport(TransportConfig{
		Iface:     iface,
		IfaceAddr: ifaceAddr,
		BindPort:  0,
		JoinGroup: false,
		OnReceive: s.handleDatagram,
	})
	if err != nil {
		return nil, err
	}
	s.t = t
	return s, nil
}

func (s *SearchServer) handleDatagram(ifaceAddr net.IP, src *net.UDPAddr, data []byte) {
	msg, err := ParseMessage(data, ifaceAddr, src, time.Now())
	if err != nil {
		log.Debug(context.Background(), "ssdp: malformed search response", "err", err, "src", src.String())
		return
	}
	if !msg.Valid() {
		return
	}
	s.onMessage(msg)
}

// Open opens the underlying socket.
func (s *SearchServer) Open() error { return s.t.Open() }

// Start begins receiving replies.
func (s *SearchServer) Start() error { return s.t.Start() }

// Stop signals shutdown, optionally joining the receive goroutine.
func (s *SearchServer) Stop(join bool) { s.t.Stop(join) }

// Close releases the socket.
func (s *SearchServer) Close() error { return s.t.Close() }

// Search sends one M-SEARCH request for the given search target (an
// empty st defaults to "ssdp:all").
func (s *SearchServer) Search(st string) error {
	buf, err := buildSearchRequest(st, s.userAgent)
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return fmt.Errorf("ssdp: resolve multicast addr: %w", err)
	}
	return s.t.Send(buf, addr)
}

// buildSearchRequest builds the M-SEARCH datagram body for st.
func buildSearchRequest(st, userAgent string) ([]byte, error) {
	if st == "" {
		st = "ssdp:all"
	}
	var h httpmsg.Headers
	h.Set("HOST", MulticastAddr)
	h.Set("MAN", `"ssdp:discover"`)
	h.Set("MX", "1")
	h.Set("ST", st)
	h.Set("USER-AGENT", userAgent)

	var buf bytes.Buffer
	if err := httpmsg.WriteRequest(&buf, "M-SEARCH", "*", "HTTP/1.1", h, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
