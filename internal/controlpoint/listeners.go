package controlpoint

import (
	"github.com/navidrome/upnpcp/internal/eventrecv"
	"github.com/navidrome/upnpcp/internal/model"
)

// AddDiscoveryListener registers a listener for device discover/lost
// events.
func (cp *ControlPoint) AddDiscoveryListener(l DiscoveryListener) {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	cp.discoveryListeners = append(cp.discoveryListeners, l)
}

// RemoveDiscoveryListener removes a previously-added listener.
// Removal during dispatch has no effect until the next event:
// dispatch snapshots the listener slice before iterating.
func (cp *ControlPoint) RemoveDiscoveryListener(l DiscoveryListener) {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	for i, existing := range cp.discoveryListeners {
		if existing == l {
			cp.discoveryListeners = append(cp.discoveryListeners[:i], cp.discoveryListeners[i+1:]...)
			return
		}
	}
}

// AddNotifyEventListener registers a listener for GENA property-change
// events.
func (cp *ControlPoint) AddNotifyEventListener(l NotifyEventListener) {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	cp.notifyListeners = append(cp.notifyListeners, l)
}

func (cp *ControlPoint) snapshotDiscoveryListeners() []DiscoveryListener {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	out := make([]DiscoveryListener, len(cp.discoveryListeners))
	copy(out, cp.discoveryListeners)
	return out
}

func (cp *ControlPoint) snapshotNotifyListeners() []NotifyEventListener {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	out := make([]NotifyEventListener, len(cp.notifyListeners))
	copy(out, cp.notifyListeners)
	return out
}

func (cp *ControlPoint) fireDiscover(dev *model.Device) {
	for _, l := range cp.snapshotDiscoveryListeners() {
		l.OnDiscover(dev)
	}
}

func (cp *ControlPoint) fireLost(dev *model.Device) {
	for _, l := range cp.snapshotDiscoveryListeners() {
		l.OnLost(dev)
	}
}

// validateSID is the eventrecv.Validator: a SID is known only while
// its owning Service is registered in the subscription table. SEQ
// values are not tracked, so the reported lastSeq is always 0.
func (cp *ControlPoint) validateSID(sid string) (bool, uint64) {
	cp.subsMu.Lock()
	defer cp.subsMu.Unlock()
	_, ok := cp.subs[sid]
	return ok, 0
}

// dispatchEvent is the eventrecv.Handler: it resolves the owning
// Service and fires onNotifyEvent once per property, preserving order.
func (cp *ControlPoint) dispatchEvent(e eventrecv.Event) {
	cp.subsMu.Lock()
	svc, ok := cp.subs[e.SID]
	cp.subsMu.Unlock()
	if !ok {
		return
	}

	for _, l := range cp.snapshotNotifyListeners() {
		for _, p := range e.Properties {
			l(svc, e.Seq, p.Name, p.Value)
		}
	}
}
