package controlpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navidrome/upnpcp/internal/config"
	"github.com/navidrome/upnpcp/internal/description"
	"github.com/navidrome/upnpcp/internal/gena"
	"github.com/navidrome/upnpcp/internal/httpmsg"
	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/ssdp"
)

const testDeviceXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
 <device>
 <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
 <friendlyName>Test Server</friendlyName>
 <UDN>uuid:11111111-1111-1111-1111-111111111111</UDN>
 <serviceList></serviceList>
 </device>
</root>`

func newTestControlPoint(t *testing.T, srv *httptest.Server) *ControlPoint {
	t.Helper()
	cp := &ControlPoint{
		cfg:     config.Default(),
		devices: map[string]*model.Device{},
		pending: map[string]bool{},
		subs:    map[string]*model.Service{},
		msgCh:   make(chan *ssdp.Message, 16),
		state:   StateStarted,
	}
	cp.ctx, cp.cancel = context.WithCancel(context.Background())
	cp.fetcher = description.NewFetcher(srv.Client(), 2)
	cp.genaClient = gena.NewClient(srv.Client(), 300*time.Second)
	cp.scheduler = gena.NewScheduler(cp.genaClient, 0)
	return cp
}

type recordingListener struct {
	mu         sync.Mutex
	discovered []*model.Device
	lost       []*model.Device
}

func (r *recordingListener) OnDiscover(d *model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = append(r.discovered, d)
}

func (r *recordingListener) OnLost(d *model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, d)
}

func notifyMessage(t *testing.T, location string, nts string, maxAge int) *ssdp.Message {
	t.Helper()
	loc, err := url.Parse(location)
	require.NoError(t, err)
	return &ssdp.Message{
		Raw:        &httpmsg.Message{Request: &httpmsg.RequestLine{Method: "NOTIFY", URI: "*", Proto: "HTTP/1.1"}},
		UUID:       "uuid:11111111-1111-1111-1111-111111111111",
		Type:       "upnp:rootdevice",
		MaxAge:     maxAge,
		Location:   loc,
		NTS:        nts,
		ReceivedAt: time.Now(),
	}
}

// A valid NOTIFY alive results in exactly one Device with the given
// UDN and expiresAt ≈ maxAge*1000ms.
func TestControlPoint_DiscoversDeviceOnNotifyAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testDeviceXML))
	}))
	defer srv.Close()

	cp := newTestControlPoint(t, srv)
	listener := &recordingListener{}
	cp.AddDiscoveryListener(listener)

	msg := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSAlive, 1800)
	cp.fetchAndInsert(msg)

	dev, ok := cp.GetDevice("uuid:11111111-1111-1111-1111-111111111111")
	require.True(t, ok)
	assert.WithinDuration(t, msg.ReceivedAt.Add(1800*time.Second), dev.ExpiresAt(), 100*time.Millisecond)

	require.Len(t, listener.discovered, 1)
	assert.Equal(t, dev, listener.discovered[0])
}

// ssdp:byebye removes the Device and fires onLost exactly once.
func TestControlPoint_ByeByeRemovesDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testDeviceXML))
	}))
	defer srv.Close()

	cp := newTestControlPoint(t, srv)
	listener := &recordingListener{}
	cp.AddDiscoveryListener(listener)

	msg := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSAlive, 1800)
	cp.fetchAndInsert(msg)
	_, ok := cp.GetDevice("uuid:11111111-1111-1111-1111-111111111111")
	require.True(t, ok)

	byebye := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSByeBye, 1800)
	cp.handleMessage(byebye, make(chan struct{}, 1), &sync.WaitGroup{})

	_, ok = cp.GetDevice("uuid:11111111-1111-1111-1111-111111111111")
	assert.False(t, ok)
	require.Len(t, listener.lost, 1)
}

// After wall-clock advances past expiry without refresh, the sweep
// removes the Device and fires onLost.
func TestControlPoint_ExpirySweepRemovesStaleDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testDeviceXML))
	}))
	defer srv.Close()

	cp := newTestControlPoint(t, srv)
	listener := &recordingListener{}
	cp.AddDiscoveryListener(listener)

	msg := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSAlive, 1)
	cp.fetchAndInsert(msg)

	cp.sweepOnce(msg.ReceivedAt.Add(2 * time.Second))

	_, ok := cp.GetDevice("uuid:11111111-1111-1111-1111-111111111111")
	assert.False(t, ok)
	require.Len(t, listener.lost, 1)
}

func TestControlPoint_RefreshesExistingDeviceInsteadOfRefetching(t *testing.T) {
	fetchCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchCount++
		w.Write([]byte(testDeviceXML))
	}))
	defer srv.Close()

	cp := newTestControlPoint(t, srv)
	msg := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSAlive, 1800)
	cp.fetchAndInsert(msg)
	assert.Equal(t, 1, fetchCount)

	refresh := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSAlive, 1800)
	cp.handleMessage(refresh, make(chan struct{}, 1), &sync.WaitGroup{})

	assert.Equal(t, 1, fetchCount, "a refresh for a known device must not re-fetch its description")
}

func TestControlPoint_DedupesConcurrentLocationFetches(t *testing.T) {
	var mu sync.Mutex
	fetchCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetchCount++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(testDeviceXML))
	}))
	defer srv.Close()

	cp := newTestControlPoint(t, srv)
	sem := make(chan struct{}, 2)
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		msg := notifyMessage(t, srv.URL+"/device.xml", ssdp.NTSAlive, 1800)
		cp.handleMessage(msg, sem, &wg)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fetchCount, "concurrent NOTIFYs for the same LOCATION must be deduplicated")
}
