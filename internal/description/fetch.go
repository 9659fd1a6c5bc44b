// Package description fetches and parses UPnP device and service
// description documents, grounded on navidrome's sonos_cast discovery
// fetch path (server/sonos_cast/discovery.go), generalized from a
// single flat document to the recursive device/service/SCPD graph a
// full device tree has, with the SCPD fetches for one device tree run
// concurrently through a bounded worker pool.
package description

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/upnperrors"
	"github.com/navidrome/upnpcp/internal/xmlutil"
)

// Fetcher retrieves and parses a device's full description graph.
type Fetcher struct {
	Client  *http.Client
	Workers int
}

// NewFetcher builds a Fetcher using client for all HTTP GETs, bounding
// concurrent SCPD fetches for a single device tree to workers.
func NewFetcher(client *http.Client, workers int) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{Client: client, Workers: workers}
}

// FetchDevice retrieves the device description at location, fetches
// every referenced service's SCPD document (bounded, concurrent), and
// builds the immutable model.Device graph, recursing into embedded
// devices.
func (f *Fetcher) FetchDevice(ctx context.Context, location *url.URL) (*model.Device, error) {
	body, err := f.get(ctx, location)
	if err != nil {
		return nil, err
	}

	var root xmlRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, &upnperrors.BuildError{Entity: "device description", Reason: fmt.Sprintf("parse %s: %v", location, err)}
	}

	urlBase := location
	if root.URLBase != "" {
		if u, err := url.Parse(root.URLBase); err == nil {
			urlBase = u
		}
	}

	scpdURLs, err := collectSCPDURLs(root.Device, urlBase)
	if err != nil {
		return nil, err
	}
	scpdCache, err := f.fetchAllSCPD(ctx, scpdURLs)
	if err != nil {
		return nil, err
	}

	fetchSCPD := func(u *url.URL) (xmlSCPD, error) {
		scpd, ok := scpdCache[u.String()]
		if !ok {
			return xmlSCPD{}, &upnperrors.BuildError{Entity: "service", Reason: fmt.Sprintf("SCPD not fetched for %s", u)}
		}
		return scpd, nil
	}

	spec, err := buildDeviceSpec(root.Device, urlBase, location, fetchSCPD)
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

func collectSCPDURLs(d xmlDevice, urlBase *url.URL) ([]*url.URL, error) {
	var urls []*url.URL
	for _, s := range d.ServiceList.Services {
		u, err := resolveRef(urlBase, s.SCPDURL)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	for _, ed := range d.DeviceList.Devices {
		sub, err := collectSCPDURLs(ed, urlBase)
		if err != nil {
			return nil, err
		}
		urls = append(urls, sub...)
	}
	return urls, nil
}

func (f *Fetcher) fetchAllSCPD(ctx context.Context, urls []*url.URL) (map[string]xmlSCPD, error) {
	results := make(map[string]xmlSCPD, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Workers)

	for _, u := range urls {
		u := u
		g.Go(func() error {
			body, err := f.get(gctx, u)
			if err != nil {
				return err
			}
			var scpd xmlSCPD
			if err := xml.Unmarshal(body, &scpd); err != nil {
				return &upnperrors.BuildError{Entity: "SCPD", Reason: fmt.Sprintf("parse %s: %v", u, err)}
			}
			mu.Lock()
			results[u.String()] = scpd
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (f *Fetcher) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &upnperrors.TransportError{Op: "GET " + u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &upnperrors.BuildError{Entity: u.String(), Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, &upnperrors.TransportError{Op: "read body " + u.String(), Err: err}
	}

	normalized, err := xmlutil.NormalizeUTF8(buf.Bytes())
	if err != nil {
		return nil, &upnperrors.MalformedMessage{Reason: "description encoding " + u.String(), Err: err}
	}
	return normalized, nil
}
