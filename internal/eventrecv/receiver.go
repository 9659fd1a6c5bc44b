// Package eventrecv runs the local HTTP endpoint that device
// subscriptions NOTIFY back to, grounded on navidrome's chi-routed
// local servers (server/dlna/dlna.go, server/nativeapi) — one
// chi.Router serving a single NOTIFY route instead of navidrome's many
// content routes.
package eventrecv

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/navidrome/upnpcp/internal/log"
)

func init() {
	chi.RegisterMethod("NOTIFY")
}

// Property is one (name, value) pair from an <e:propertyset> body, in
// wire order.
type Property struct {
	Name  string
	Value string
}

// Event is a single dispatched NOTIFY, identified by its subscription.
type Event struct {
	SID        string
	Seq        uint64
	Properties []Property
}

// Handler is called for every accepted NOTIFY.
type Handler func(Event)

// Validator is consulted before a NOTIFY is accepted: given the SID it
// carries, return whether that SID is currently known and the
// sequence number the receiver last saw for it (0 if new).
type Validator func(sid string) (known bool, lastSeq uint64)

// Receiver runs a local HTTP server on the eventing callback path.
type Receiver struct {
	Addr     string
	Path     string
	Validate Validator
	OnEvent  Handler

	srv *http.Server
}

// NewReceiver builds a Receiver listening on addr. Every NOTIFY is
// accepted regardless of path; subscriptions are identified by SID,
// not by callback path (see CallbackURL).
func NewReceiver(addr, path string, validate Validator, onEvent Handler) *Receiver {
	return &Receiver{Addr: addr, Path: path, Validate: validate, OnEvent: onEvent}
}

// CallbackURL returns the absolute CALLBACK URL for a subscription on
// the given UDN/serviceId: "http://<ifaceIP>:<port>/<UDN>/<serviceId>".
func (r *Receiver) CallbackURL(udn, serviceID string) (string, error) {
	_, port, err := net.SplitHostPort(r.srv.Addr)
	if err != nil {
		return "", err
	}
	host, _, err := net.SplitHostPort(r.Addr)
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/%s/%s", host, port, udn, serviceID), nil
}

// Start binds the listener and begins serving in the background.
func (r *Receiver) Start(ctx context.Context) error {
	router := chi.NewRouter()
	router.MethodFunc("NOTIFY", "/*", r.handleNotify)

	ln, err := net.Listen("tcp", r.Addr)
	if err != nil {
		return err
	}

	r.srv = &http.Server{Handler: router, ReadTimeout: 30 * time.Second}
	r.srv.Addr = ln.Addr().String()
	go func() {
		if err := r.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "eventrecv: server stopped", err)
		}
	}()
	return nil
}

// Stop shuts the server down, honoring ctx's deadline.
func (r *Receiver) Stop(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}
	return r.srv.Shutdown(ctx)
}

func (r *Receiver) handleNotify(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	nt := req.Header.Get("NT")
	nts := req.Header.Get("NTS")
	sid := req.Header.Get("SID")
	seqHeader := req.Header.Get("SEQ")

	if nt == "" || nts == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if nt != "upnp:event" || nts != "upnp:propchange" || sid == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	known, _ := r.Validate(sid)
	if !known {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	seq, err := strconv.ParseUint(seqHeader, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	props, err := parsePropertySet(body)
	if err != nil {
		log.Debug(ctx, "eventrecv: malformed propertyset", "err", err, "sid", sid)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	r.OnEvent(Event{SID: sid, Seq: seq, Properties: props})
}

// parsePropertySet decodes an <e:propertyset> body into ordered
// (name, value) pairs, tolerating whatever namespace prefix the
// device used.
func parsePropertySet(body []byte) ([]Property, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var props []Property

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "property" {
			continue
		}
		inner, err := nextStart(dec)
		if err != nil {
			return nil, err
		}
		var value string
		if err := dec.DecodeElement(&value, &inner); err != nil {
			return nil, err
		}
		props = append(props, Property{Name: inner.Name.Local, Value: strings.TrimSpace(value)})
	}
	return props, nil
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
