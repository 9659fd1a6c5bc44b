package ssdp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notifyAliveDatagram() []byte {
	return []byte("NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://192.0.2.10:2869/desc.xml\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n" +
		"SERVER: Foo/1.0\r\n" +
		"USN: uuid:11111111-1111-1111-1111-111111111111::upnp:rootdevice\r\n" +
		"\r\n")
}

// Scenario A: same-subnet source, expiry ≈ maxAge*1000ms.
func TestParseMessage_ScenarioA(t *testing.T) {
	now := time.Now()
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 1900}
	iface := net.ParseIP("192.0.2.3")

	msg, err := ParseMessage(notifyAliveDatagram(), iface, src, now)
	require.NoError(t, err)
	require.True(t, msg.Valid())

	assert.Equal(t, "uuid:11111111-1111-1111-1111-111111111111", msg.UUID)
	assert.Equal(t, "upnp:rootdevice", msg.Type)
	assert.Equal(t, 1800, msg.MaxAge)
	require.NotNil(t, msg.Location)
	assert.Equal(t, "http://192.0.2.10:2869/desc.xml", msg.Location.String())

	wantExpiry := now.Add(1800 * time.Second)
	assert.WithinDuration(t, wantExpiry, msg.ExpiresAt(), 100*time.Millisecond)

	mask := net.CIDRMask(24, 32)
	assert.True(t, msg.ValidForNotify(iface, mask))
}

// Scenario B: source outside the bound subnet is dropped.
func TestParseMessage_ScenarioB_DroppedOutsideSubnet(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("198.51.100.5"), Port: 1900}
	iface := net.ParseIP("192.0.2.3")
	mask := net.CIDRMask(24, 32)

	msg, err := ParseMessage(notifyAliveDatagram(), iface, src, time.Now())
	require.NoError(t, err)
	assert.False(t, msg.ValidForNotify(iface, mask))
}

func TestParseMessage_ByeByeValidWithoutLocation(t *testing.T) {
	raw := []byte("NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:byebye\r\n" +
		"USN: uuid:11111111-1111-1111-1111-111111111111::upnp:rootdevice\r\n" +
		"\r\n")
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 1900}
	msg, err := ParseMessage(raw, net.ParseIP("192.0.2.3"), src, time.Now())
	require.NoError(t, err)
	assert.True(t, msg.Valid())
	assert.Equal(t, NTSByeBye, msg.NTS)
}

func TestParseMessage_MissingLocationInvalid(t *testing.T) {
	raw := []byte("NOTIFY * HTTP/1.1\r\nNT: upnp:rootdevice\r\nNTS: ssdp:alive\r\nUSN: uuid:x::y\r\n\r\n")
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 1900}
	msg, err := ParseMessage(raw, net.ParseIP("192.0.2.3"), src, time.Now())
	require.NoError(t, err)
	assert.False(t, msg.Valid())
}

func TestValidForNotify_DropsMSearch(t *testing.T) {
	raw := []byte("M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 1\r\nST: ssdp:all\r\n\r\n")
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 1900}
	iface := net.ParseIP("192.0.2.3")
	msg, err := ParseMessage(raw, iface, src, time.Now())
	require.NoError(t, err)
	assert.False(t, msg.ValidForNotify(iface, net.CIDRMask(24, 32)))
}

// Scenario C: search emits a well-formed M-SEARCH.
func TestBuildSearchRequest_ScenarioC(t *testing.T) {
	data, err := buildSearchRequest("upnp:rootdevice", "test-agent/1.0")
	require.NoError(t, err)

	s := string(data)
	assert.True(t, len(s) > 0 && s[:len("M-SEARCH * HTTP/1.1\r\n")] == "M-SEARCH * HTTP/1.1\r\n")
	assert.Contains(t, s, "HOST: 239.255.255.250:1900\r\n")
	assert.Contains(t, s, `MAN: "ssdp:discover"`+"\r\n")
	assert.Contains(t, s, "MX: 1\r\n")
	assert.Contains(t, s, "ST: upnp:rootdevice\r\n")
}

func TestBuildSearchRequest_DefaultsToSsdpAll(t *testing.T) {
	data, err := buildSearchRequest("", "test-agent/1.0")
	require.NoError(t, err)
	assert.Contains(t, string(data), "ST: ssdp:all\r\n")
}
