package ssdp

import (
	"bufio"
	"bytes"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/navidrome/upnpcp/internal/httpmsg"
)

// Notification sub-types.
const (
	NTSAlive  = "ssdp:alive"
	NTSByeBye = "ssdp:byebye"
	NTSUpdate = "ssdp:update"
)

const defaultMaxAge = 1800

var maxAgeRe = regexp.MustCompile(`(?i)max-age\s*=\s*(\d+)`)

// Message is the parsed form of one UDP datagram. It is immutable
// once constructed and is discarded after dispatch.
type Message struct {
	InterfaceAddr net.IP
	Source        *net.UDPAddr
	Raw           *httpmsg.Message

	UUID     string
	Type     string
	MaxAge   int
	Location *url.URL
	NTS      string

	ReceivedAt time.Time
}

// ExpiresAt is the device-table expiry timestamp derived from this
// message: receipt time plus MaxAge seconds.
func (m *Message) ExpiresAt() time.Time {
	return m.ReceivedAt.Add(time.Duration(m.MaxAge) * time.Second)
}

// IsNotify reports whether the raw message is an SSDP NOTIFY request.
func (m *Message) IsNotify() bool {
	return m.Raw.Request != nil && strings.EqualFold(m.Raw.Request.Method, "NOTIFY")
}

// IsSearch reports whether the raw message is an M-SEARCH request.
func (m *Message) IsSearch() bool {
	return m.Raw.Request != nil && strings.EqualFold(m.Raw.Request.Method, "M-SEARCH")
}

// ParseMessage decodes one datagram into a Message, without applying
// the validity filters (those are socket-specific, see ValidForNotify).
func ParseMessage(data []byte, interfaceAddr net.IP, source *net.UDPAddr, now time.Time) (*Message, error) {
	raw, err := httpmsg.Parse(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		InterfaceAddr: interfaceAddr,
		Source:        source,
		Raw:           raw,
		ReceivedAt:    now,
		MaxAge:        defaultMaxAge,
	}

	if usn, ok := raw.Headers.Get("USN"); ok {
		msg.UUID, msg.Type = splitUSN(usn)
	}
	if cc, ok := raw.Headers.Get("CACHE-CONTROL"); ok {
		if sub := maxAgeRe.FindStringSubmatch(cc); len(sub) == 2 {
			if n, err := strconv.Atoi(sub[1]); err == nil {
				msg.MaxAge = n
			}
		}
	}
	if loc, ok := raw.Headers.Get("LOCATION"); ok && loc != "" {
		if u, err := url.Parse(loc); err == nil {
			msg.Location = u
		}
	}
	msg.NTS = strings.ToLower(raw.Headers.GetDefault("NTS", ""))

	return msg, nil
}

// Valid applies the single cross-cutting invariant: a received
// message is accepted only if LOCATION is present or nts ==
// ssdp:byebye.
func (m *Message) Valid() bool {
	return m.Location != nil || m.NTS == NTSByeBye
}

// ValidForNotify applies the notify-socket-only filters: same-subnet
// source check and anti-spoofing LOCATION-host check. ifaceIP/
// ifaceMask describe the bound interface's IPv4 subnet.
func (m *Message) ValidForNotify(ifaceIP net.IP, ifaceMask net.IPMask) bool {
	if m.IsSearch() {
		return false
	}
	if !sameSubnet(m.Source.IP, ifaceIP, ifaceMask) {
		return false
	}
	if m.NTS != NTSByeBye {
		if m.Location == nil {
			return false
		}
		if !locationHostMatches(m.Location, m.Source.IP) {
			return false
		}
	}
	return m.Valid()
}

func sameSubnet(peer, iface net.IP, mask net.IPMask) bool {
	p4 := peer.To4()
	i4 := iface.To4()
	if p4 == nil || i4 == nil || len(mask) != net.IPv4len {
		return false
	}
	for i := 0; i < net.IPv4len; i++ {
		if p4[i]&mask[i] != i4[i]&mask[i] {
			return false
		}
	}
	return true
}

func locationHostMatches(u *url.URL, peer net.IP) bool {
	host := u.Hostname()
	hostIP := net.ParseIP(host)
	if hostIP == nil {
		// Hostname rather than literal address: resolution is out of
		// scope here, so we don't reject it outright.
		return true
	}
	return hostIP.Equal(peer)
}

func splitUSN(usn string) (uuidPart, typePart string) {
	const sep = "::"
	if idx := strings.Index(usn, sep); idx >= 0 {
		return usn[:idx], usn[idx+len(sep):]
	}
	return usn, ""
}
