// Package controlpoint is the orchestrator: it wires the ssdp,
// description, soap, gena, and eventrecv packages together, owns the
// device table, and dispatches listener callbacks. It plays the role
// navidrome's server/sonos_cast.Discovery and AVTransport types play
// separately, merged into a single coordinating ControlPoint type —
// one transport-owning orchestrator instead of scattered globals.
package controlpoint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/navidrome/upnpcp/internal/config"
	"github.com/navidrome/upnpcp/internal/description"
	"github.com/navidrome/upnpcp/internal/eventrecv"
	"github.com/navidrome/upnpcp/internal/gena"
	"github.com/navidrome/upnpcp/internal/log"
	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/soap"
	"github.com/navidrome/upnpcp/internal/ssdp"
	"github.com/navidrome/upnpcp/internal/upnperrors"
)

// DiscoveryListener receives device-table lifecycle events.
type DiscoveryListener interface {
	OnDiscover(dev *model.Device)
	OnLost(dev *model.Device)
}

// NotifyEventListener receives one property-change notification per
// call, for every property carried in a single NOTIFY.
type NotifyEventListener func(svc *model.Service, seq uint64, name, value string)

type ifaceBinding struct {
	iface  net.Interface
	ip     net.IP
	mask   net.IPMask
	search *ssdp.SearchServer
	notify *ssdp.NotifyReceiver
}

// ControlPoint is the single entry point of this module:
// newControlPoint/initialize/start/stop/terminate.
type ControlPoint struct {
	cfg config.Config

	mu    sync.Mutex
	state State

	ifaces []*ifaceBinding

	httpClient    *http.Client
	fetcher       *description.Fetcher
	invoker       *soap.Invoker
	genaClient    *gena.Client
	scheduler     *gena.Scheduler
	eventReceiver *eventrecv.Receiver

	devicesMu sync.RWMutex
	devices   map[string]*model.Device

	pendingMu sync.Mutex
	pending   map[string]bool

	listenersMu        sync.Mutex
	discoveryListeners []DiscoveryListener
	notifyListeners    []NotifyEventListener

	subsMu sync.Mutex
	subs   map[string]*model.Service // SID -> Service, for event dispatch + NOTIFY SID validation

	msgCh chan *ssdp.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a ControlPoint bound to the given interfaces. An empty
// list makes New itself enumerate the usable interfaces: up,
// multicast-capable, and carrying an IPv4 address.
func New(cfg config.Config, ifaces []net.Interface) (*ControlPoint, error) {
	if len(ifaces) == 0 {
		found, err := usableInterfaces()
		if err != nil {
			return nil, err
		}
		ifaces = found
	}

	cp := &ControlPoint{
		cfg:     cfg,
		state:   StateUninitialized,
		devices: map[string]*model.Device{},
		pending: map[string]bool{},
		subs:    map[string]*model.Service{},
		msgCh:   make(chan *ssdp.Message, 64),
	}
	for _, ni := range ifaces {
		ip, mask, err := ipv4AddrOf(ni)
		if err != nil {
			return nil, err
		}
		cp.ifaces = append(cp.ifaces, &ifaceBinding{iface: ni, ip: ip, mask: mask})
	}
	if len(cp.ifaces) == 0 {
		return nil, &upnperrors.ProtocolError{Reason: "no usable IPv4 interface found"}
	}
	return cp, nil
}

func usableInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, ni := range all {
		if ni.Flags&net.FlagUp == 0 || ni.Flags&net.FlagMulticast == 0 {
			continue
		}
		if _, _, err := ipv4AddrOf(ni); err == nil {
			out = append(out, ni)
		}
	}
	return out, nil
}

func ipv4AddrOf(ni net.Interface) (net.IP, net.IPMask, error) {
	addrs, err := ni.Addrs()
	if err != nil {
		return nil, nil, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, ipnet.Mask, nil
		}
	}
	return nil, nil, &upnperrors.ProtocolError{Reason: fmt.Sprintf("interface %s has no IPv4 address", ni.Name)}
}

// Initialize constructs every component (sockets are not yet opened).
func (cp *ControlPoint) Initialize(ctx context.Context) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.state != StateUninitialized {
		return &upnperrors.ProtocolError{Reason: "initialize called from state " + cp.state.String()}
	}

	cp.httpClient = &http.Client{Timeout: cp.cfg.HTTPReadTimeout}
	cp.fetcher = description.NewFetcher(cp.httpClient, cp.cfg.DescriptionFetchWorkers)
	cp.invoker = soap.NewInvoker(cp.httpClient, cp.cfg.UserAgent)
	cp.genaClient = gena.NewClient(cp.httpClient, cp.cfg.SubscriptionTimeout)
	cp.scheduler = gena.NewScheduler(cp.genaClient, cp.cfg.MinRenewSleep)

	first := cp.ifaces[0]
	_, eventPort, err := net.SplitHostPort(cp.cfg.EventReceiverAddr)
	if err != nil {
		return &upnperrors.ProtocolError{Reason: "invalid EventReceiverAddr " + cp.cfg.EventReceiverAddr}
	}
	cp.eventReceiver = eventrecv.NewReceiver(
		fmt.Sprintf("%s:%s", first.ip.String(), eventPort),
		"/event",
		cp.validateSID,
		cp.dispatchEvent,
	)

	for _, ib := range cp.ifaces {
		ib := ib
		search, err := ssdp.NewSearchServer(ib.iface, ib.ip, cp.cfg.UserAgent, func(msg *ssdp.Message) {
			cp.enqueue(msg)
		})
		if err != nil {
			return err
		}
		notify, err := ssdp.NewNotifyReceiver(ib.iface, ib.ip, ib.mask, cp.cfg.NotifyPort, func(msg *ssdp.Message) {
			cp.enqueue(msg)
		})
		if err != nil {
			return err
		}
		ib.search = search
		ib.notify = notify
	}

	cp.state = StateInitialized
	return nil
}

func (cp *ControlPoint) enqueue(msg *ssdp.Message) {
	select {
	case cp.msgCh <- msg:
	default:
		log.Warn(context.Background(), "controlpoint: message queue full, dropping datagram", nil)
	}
}

// Start opens every socket and launches every background worker.
func (cp *ControlPoint) Start() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.state != StateInitialized {
		return &upnperrors.ProtocolError{Reason: "start called from state " + cp.state.String()}
	}

	cp.ctx, cp.cancel = context.WithCancel(context.Background())

	for _, ib := range cp.ifaces {
		if err := ib.search.Open(); err != nil {
			return err
		}
		if err := ib.notify.Open(); err != nil {
			return err
		}
		if err := ib.search.Start(); err != nil {
			return err
		}
		if err := ib.notify.Start(); err != nil {
			return err
		}
	}

	if err := cp.eventReceiver.Start(cp.ctx); err != nil {
		return err
	}

	cp.wg.Add(3)
	go cp.dispatchLoop()
	go cp.sweepLoop()
	go func() {
		defer cp.wg.Done()
		cp.scheduler.Run(cp.ctx)
	}()

	cp.state = StateStarted
	return nil
}

// Stop signals every worker to quiesce, clears the device table, and
// best-effort unsubscribes every active subscription.
func (cp *ControlPoint) Stop() error {
	cp.mu.Lock()
	if cp.state != StateStarted {
		cp.mu.Unlock()
		return &upnperrors.ProtocolError{Reason: "stop called from state " + cp.state.String()}
	}
	cp.mu.Unlock()

	cp.cancel()

	for _, ib := range cp.ifaces {
		ib.search.Stop(true)
		ib.notify.Stop(true)
		ib.search.Close()
		ib.notify.Close()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cp.eventReceiver.Stop(stopCtx)

	cp.wg.Wait()

	var errs *multierror.Error
	cp.devicesMu.Lock()
	devices := make([]*model.Device, 0, len(cp.devices))
	for _, d := range cp.devices {
		devices = append(devices, d)
	}
	cp.devices = map[string]*model.Device{}
	cp.devicesMu.Unlock()

	for i := 0; i < len(devices); i++ {
		d := devices[i]
		devices = append(devices, d.EmbeddedDevices...)
		for _, svc := range d.Services {
			if sub := svc.Subscription(); sub.Subscribed() {
				unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := cp.genaClient.Unsubscribe(unsubCtx, svc, sub.SID); err != nil {
					errs = multierror.Append(errs, err)
				}
				cancel()
				svc.ClearSubscription()
			}
		}
	}

	cp.mu.Lock()
	cp.state = StateStopped
	cp.mu.Unlock()

	return errs.ErrorOrNil()
}

// Terminate is one-shot; once called the ControlPoint cannot be
// reused.
func (cp *ControlPoint) Terminate() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.state == StateStarted {
		cp.mu.Unlock()
		_ = cp.Stop()
		cp.mu.Lock()
	}
	cp.state = StateTerminated
	return nil
}

// Search sends an M-SEARCH for st (empty defaults to "ssdp:all") on
// every bound interface.
func (cp *ControlPoint) Search(st string) error {
	cp.mu.Lock()
	started := cp.state == StateStarted
	cp.mu.Unlock()
	if !started {
		return &upnperrors.ProtocolError{Reason: "search called before start"}
	}

	var errs *multierror.Error
	for _, ib := range cp.ifaces {
		if err := ib.search.Search(st); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// GetDevice looks up a Device by UDN.
func (cp *ControlPoint) GetDevice(udn string) (*model.Device, bool) {
	cp.devicesMu.RLock()
	defer cp.devicesMu.RUnlock()
	d, ok := cp.devices[udn]
	return d, ok
}

// GetDeviceList returns a snapshot of every known Device.
func (cp *ControlPoint) GetDeviceList() []*model.Device {
	cp.devicesMu.RLock()
	defer cp.devicesMu.RUnlock()
	out := make([]*model.Device, 0, len(cp.devices))
	for _, d := range cp.devices {
		out = append(out, d)
	}
	return out
}
