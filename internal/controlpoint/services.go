package controlpoint

import (
	"context"

	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/upnperrors"
)

// Subscribe issues a SUBSCRIBE for svc. When keep is true the
// subscription is handed to the keep-alive scheduler for automatic
// renewal.
func (cp *ControlPoint) Subscribe(ctx context.Context, dev *model.Device, svc *model.Service, keep bool) error {
	cp.mu.Lock()
	started := cp.state == StateStarted
	cp.mu.Unlock()
	if !started {
		return &upnperrors.ProtocolError{Reason: "subscribe called before start"}
	}

	callback, err := cp.eventReceiver.CallbackURL(dev.UDN, svc.ServiceID)
	if err != nil {
		return err
	}

	sub, err := cp.genaClient.Subscribe(ctx, svc, callback)
	if err != nil {
		return err
	}
	svc.SetSubscription(sub)

	cp.subsMu.Lock()
	cp.subs[sub.SID] = svc
	cp.subsMu.Unlock()

	if keep {
		cp.scheduler.Track(svc)
	}
	return nil
}

// Unsubscribe issues an UNSUBSCRIBE for svc's current subscription and
// clears local state whether or not the request succeeds; the
// UNSUBSCRIBE error, if any, is returned.
func (cp *ControlPoint) Unsubscribe(ctx context.Context, svc *model.Service) error {
	sub := svc.Subscription()
	if !sub.Subscribed() {
		return nil
	}

	err := cp.genaClient.Unsubscribe(ctx, svc, sub.SID)

	cp.subsMu.Lock()
	delete(cp.subs, sub.SID)
	cp.subsMu.Unlock()
	cp.scheduler.Untrack(svc)
	svc.ClearSubscription()

	return err
}

// Invoke calls action on svc.
func (cp *ControlPoint) Invoke(ctx context.Context, svc *model.Service, action *model.Action, args map[string]string, returnErrorResponse bool) (map[string]string, error) {
	return cp.invoker.Invoke(ctx, svc, action, args, returnErrorResponse)
}
