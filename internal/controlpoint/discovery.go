package controlpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navidrome/upnpcp/internal/log"
	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/ssdp"
)

// dispatchLoop drains the SSDP message queue, bounding concurrent
// description fetches to cfg.DescriptionFetchWorkers (a small worker
// pool, default 2).
func (cp *ControlPoint) dispatchLoop() {
	defer cp.wg.Done()

	sem := make(chan struct{}, cp.cfg.DescriptionFetchWorkers)
	var fetchWg sync.WaitGroup
	defer fetchWg.Wait()

	for {
		select {
		case <-cp.ctx.Done():
			return
		case msg := <-cp.msgCh:
			cp.handleMessage(msg, sem, &fetchWg)
		}
	}
}

func (cp *ControlPoint) handleMessage(msg *ssdp.Message, sem chan struct{}, fetchWg *sync.WaitGroup) {
	if msg.IsNotify() && msg.NTS == ssdp.NTSByeBye {
		cp.removeDevice(msg.UUID)
		return
	}
	if msg.IsSearch() {
		return
	}

	if dev, ok := cp.GetDevice(msg.UUID); ok {
		dev.Refresh(msg.ReceivedAt, msg.MaxAge)
		return
	}
	if msg.Location == nil {
		return
	}

	loc := msg.Location.String()
	cp.pendingMu.Lock()
	if cp.pending[loc] {
		cp.pendingMu.Unlock()
		return
	}
	cp.pending[loc] = true
	cp.pendingMu.Unlock()

	fetchWg.Add(1)
	sem <- struct{}{}
	go func() {
		defer fetchWg.Done()
		defer func() { <-sem }()
		defer func() {
			cp.pendingMu.Lock()
			delete(cp.pending, loc)
			cp.pendingMu.Unlock()
		}()
		cp.fetchAndInsert(msg)
	}()
}

func (cp *ControlPoint) fetchAndInsert(msg *ssdp.Message) {
	ctx, cancel := context.WithTimeout(cp.ctx, cp.cfg.HTTPConnectTimeout+cp.cfg.HTTPReadTimeout)
	defer cancel()
	ctx = log.NewContext(ctx, "fetchId", uuid.NewString(), "location", msg.Location.String())

	log.Debug(ctx, "controlpoint: fetching description")
	dev, err := cp.fetcher.FetchDevice(ctx, msg.Location)
	if err != nil {
		log.Warn(ctx, "controlpoint: description fetch failed", err)
		return
	}
	dev.Refresh(msg.ReceivedAt, msg.MaxAge)
	cp.insertDevice(dev)
}

func (cp *ControlPoint) insertDevice(dev *model.Device) {
	cp.devicesMu.Lock()
	cp.devices[dev.UDN] = dev
	cp.devicesMu.Unlock()

	cp.fireDiscover(dev)
}

func (cp *ControlPoint) removeDevice(udn string) {
	cp.devicesMu.Lock()
	dev, ok := cp.devices[udn]
	if ok {
		delete(cp.devices, udn)
	}
	cp.devicesMu.Unlock()
	if !ok {
		return
	}

	cp.invalidateSubscriptions(dev)
	cp.fireLost(dev)
}

func (cp *ControlPoint) invalidateSubscriptions(dev *model.Device) {
	cp.subsMu.Lock()
	defer cp.subsMu.Unlock()
	cp.invalidateSubscriptionsLocked(dev)
}

func (cp *ControlPoint) invalidateSubscriptionsLocked(dev *model.Device) {
	for _, svc := range dev.Services {
		sub := svc.Subscription()
		if sub.Subscribed() {
			delete(cp.subs, sub.SID)
			cp.scheduler.Untrack(svc)
			svc.ClearSubscription()
		}
	}
	for _, embedded := range dev.EmbeddedDevices {
		cp.invalidateSubscriptionsLocked(embedded)
	}
}

// sweepLoop removes any Device past its expiry on a 1s tick.
func (cp *ControlPoint) sweepLoop() {
	defer cp.wg.Done()

	ticker := time.NewTicker(cp.cfg.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cp.ctx.Done():
			return
		case now := <-ticker.C:
			cp.sweepOnce(now)
		}
	}
}

func (cp *ControlPoint) sweepOnce(now time.Time) {
	cp.devicesMu.RLock()
	var expired []string
	for udn, d := range cp.devices {
		if d.Expired(now) {
			expired = append(expired, udn)
		}
	}
	cp.devicesMu.RUnlock()

	for _, udn := range expired {
		cp.removeDevice(udn)
	}
}
