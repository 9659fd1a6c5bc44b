package gena

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navidrome/upnpcp/internal/model"
)

func TestParseTimeout(t *testing.T) {
	ms, err := ParseTimeout("Second-300")
	require.NoError(t, err)
	assert.Equal(t, int64(300000), ms)

	ms, err = ParseTimeout("Second-infinite")
	require.NoError(t, err)
	assert.Equal(t, TimeoutInfinite, ms)

	ms, err = ParseTimeout("infinite")
	require.NoError(t, err)
	assert.Equal(t, TimeoutInfinite, ms)

	_, err = ParseTimeout("")
	assert.Error(t, err)

	_, err = ParseTimeout("garbage")
	assert.Error(t, err)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testService(t *testing.T, eventSubURL string) *model.Service {
	svc, err := model.ServiceSpec{
		ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
		ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
		SCPDURL:     mustURL(t, "http://h/s"),
		ControlURL:  mustURL(t, "http://h/c"),
		EventSubURL: mustURL(t, eventSubURL),
	}.Build()
	require.NoError(t, err)
	return svc
}

// Scenario E, first half: SUBSCRIBE sends NT and CALLBACK and the
// response's SID and TIMEOUT are parsed. Renewal timing is covered by
// TestRenewalTime_UsesLargerMargin and TestScheduler_RunRenewsBeforeLapse.
func TestClient_Subscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SUBSCRIBE", r.Method)
		assert.Equal(t, "upnp:event", r.Header.Get("NT"))
		assert.Equal(t, "<http://callback/events>", r.Header.Get("CALLBACK"))
		w.Header().Set("SID", "uuid:sub-1")
		w.Header().Set("TIMEOUT", "Second-300")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := testService(t, srv.URL+"/event")
	c := NewClient(srv.Client(), 300*time.Second)
	sub, err := c.Subscribe(context.Background(), svc, "http://callback/events")
	require.NoError(t, err)
	assert.Equal(t, "uuid:sub-1", sub.SID)
	assert.Equal(t, int64(300000), sub.TimeoutMs)
}

func TestClient_Renew_SendsOnlySIDAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "uuid:sub-1", r.Header.Get("SID"))
		assert.Empty(t, r.Header.Get("NT"))
		assert.Empty(t, r.Header.Get("CALLBACK"))
		w.Header().Set("SID", "uuid:sub-1")
		w.Header().Set("TIMEOUT", "Second-300")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := testService(t, srv.URL+"/event")
	c := NewClient(srv.Client(), 300*time.Second)
	_, err := c.Renew(context.Background(), svc, "uuid:sub-1")
	require.NoError(t, err)
}

func TestClient_Unsubscribe(t *testing.T) {
	var gotSID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UNSUBSCRIBE", r.Method)
		gotSID = r.Header.Get("SID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := testService(t, srv.URL+"/event")
	c := NewClient(srv.Client(), 300*time.Second)
	err := c.Unsubscribe(context.Background(), svc, "uuid:sub-1")
	require.NoError(t, err)
	assert.Equal(t, "uuid:sub-1", gotSID)
}

func TestRenewalTime_UsesLargerMargin(t *testing.T) {
	start := time.Now()
	sub := model.Subscription{SubscriptionStart: start, TimeoutMs: 300000}
	got := renewalTime(sub)
	// max(300-10, 300*0.9) = max(290, 270) = 290s
	assert.WithinDuration(t, start.Add(290*time.Second), got, time.Millisecond)
}

func TestScheduler_TrackSkipsInfiniteTimeout(t *testing.T) {
	sched := NewScheduler(NewClient(http.DefaultClient, 300*time.Second), 0)
	svc := testService(t, "http://h/event")
	svc.SetSubscription(model.Subscription{SID: "uuid:sub-1", SubscriptionStart: time.Now(), TimeoutMs: TimeoutInfinite})

	sched.Track(svc)
	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Empty(t, sched.queue)
}

func TestScheduler_RunRenewsBeforeLapse(t *testing.T) {
	renewed := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("SID", "uuid:sub-1")
		w.Header().Set("TIMEOUT", "Second-300")
		w.WriteHeader(http.StatusOK)
		select {
		case renewed <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	svc := testService(t, srv.URL+"/event")
	// Started 299s ago with a 300s timeout, its renewal time (start+290s)
	// has already passed, so Run renews it after the 1s minimum sleep.
	svc.SetSubscription(model.Subscription{SID: "uuid:sub-1", SubscriptionStart: time.Now().Add(-299 * time.Second), TimeoutMs: 300000})

	c := NewClient(srv.Client(), 300*time.Second)
	sched := NewScheduler(c, 0)
	sched.Track(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sched.Run(ctx)

	select {
	case <-renewed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected renewal to fire")
	}
}
