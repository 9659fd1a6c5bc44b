// Package gena implements the GENA eventing client side:
// SUBSCRIBE/RENEW/UNSUBSCRIBE requests and the keep-alive scheduler
// that renews active subscriptions before they lapse. The wire
// headers (NT/NTS/SID/SEQ/CALLBACK/TIMEOUT) are grounded on the
// propertyset notifier found in the pmomusic UPnP stack pulled into
// the example pack (pmoupnp's ServiceInstance.NotifySubscribers),
// read from the subscriber's point of view instead of the device's.
package gena

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/upnperrors"
)

// TimeoutInfinite is the sentinel TimeoutMs value for a "Second-infinite"
// subscription: never renewed, still subject to the expiry sweep's
// absence of an expiry — the subscription simply never lapses on its
// own.
const TimeoutInfinite int64 = -1

var timeoutRe = regexp.MustCompile(`(?i)^Second-(\d+)$`)

// Client issues SUBSCRIBE/RENEW/UNSUBSCRIBE requests against a
// service's eventSubURL.
type Client struct {
	HTTPClient     *http.Client
	DefaultTimeout time.Duration
}

// NewClient builds a gena Client.
func NewClient(httpClient *http.Client, defaultTimeout time.Duration) *Client {
	return &Client{HTTPClient: httpClient, DefaultTimeout: defaultTimeout}
}

// Subscribe issues an initial SUBSCRIBE (NT/CALLBACK/TIMEOUT headers,
// no SID) and returns the assigned SID and timeout.
func (c *Client) Subscribe(ctx context.Context, svc *model.Service, callback string) (model.Subscription, error) {
	req, err := c.newRequest(ctx, svc, "SUBSCRIBE")
	if err != nil {
		return model.Subscription{}, err
	}
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("TIMEOUT", c.timeoutHeader())
	req.Header.Set("Content-Length", "0")

	return c.do(req, "")
}

// Renew issues a RENEW (SID/TIMEOUT only — no NT/CALLBACK). The
// response's SID must equal sid or the renewal fails.
func (c *Client) Renew(ctx context.Context, svc *model.Service, sid string) (model.Subscription, error) {
	req, err := c.newRequest(ctx, svc, "SUBSCRIBE")
	if err != nil {
		return model.Subscription{}, err
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", c.timeoutHeader())
	req.Header.Set("Content-Length", "0")

	return c.do(req, sid)
}

// Unsubscribe issues an UNSUBSCRIBE for sid.
func (c *Client) Unsubscribe(ctx context.Context, svc *model.Service, sid string) error {
	req, err := c.newRequest(ctx, svc, "UNSUBSCRIBE")
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &upnperrors.TransportError{Op: "UNSUBSCRIBE " + svc.EventSubURL.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &upnperrors.ProtocolError{Reason: fmt.Sprintf("UNSUBSCRIBE returned status %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, svc *model.Service, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, svc.EventSubURL.String(), nil)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) timeoutHeader() string {
	return fmt.Sprintf("Second-%d", int64(c.DefaultTimeout/time.Second))
}

// do performs the request and validates the response. When wantSID is
// non-empty (a renewal), the returned SID must equal it or the
// renewal fails.
func (c *Client) do(req *http.Request, wantSID string) (model.Subscription, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return model.Subscription{}, &upnperrors.TransportError{Op: req.Method + " " + req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Subscription{}, &upnperrors.ProtocolError{Reason: fmt.Sprintf("%s returned status %d", req.Method, resp.StatusCode)}
	}

	sid := resp.Header.Get("SID")
	if sid == "" {
		return model.Subscription{}, &upnperrors.ProtocolError{Reason: "subscribe response missing SID"}
	}
	if wantSID != "" && sid != wantSID {
		return model.Subscription{}, &upnperrors.ProtocolError{Reason: fmt.Sprintf("renewal SID mismatch: got %q, want %q", sid, wantSID)}
	}

	timeoutMs, err := ParseTimeout(resp.Header.Get("TIMEOUT"))
	if err != nil {
		return model.Subscription{}, err
	}

	return model.Subscription{
		SID:               sid,
		SubscriptionStart: time.Now(),
		TimeoutMs:         timeoutMs,
	}, nil
}

// ParseTimeout parses a GENA TIMEOUT header value ("Second-N",
// "Second-infinite", or a bare "infinite") into milliseconds, or
// TimeoutInfinite.
func ParseTimeout(header string) (int64, error) {
	if header == "" {
		return 0, &upnperrors.ProtocolError{Reason: "subscribe response missing TIMEOUT"}
	}
	if m := timeoutRe.FindStringSubmatch(header); m != nil {
		seconds, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, &upnperrors.MalformedMessage{Reason: "TIMEOUT header", Err: err}
		}
		return seconds * 1000, nil
	}
	if strings.EqualFold(header, "Second-infinite") || strings.EqualFold(header, "infinite") {
		return TimeoutInfinite, nil
	}
	return 0, &upnperrors.MalformedMessage{Reason: "unrecognized TIMEOUT header: " + header}
}
