package gena

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/navidrome/upnpcp/internal/log"
	"github.com/navidrome/upnpcp/internal/model"
)

const defaultMinRenewSleep = time.Second

// renewalTime is the point at which a subscription must be renewed:
// subscriptionStart + max(timeout-10s, timeout*9/10).
func renewalTime(sub model.Subscription) time.Time {
	timeout := time.Duration(sub.TimeoutMs) * time.Millisecond
	margin := timeout - 10*time.Second
	if nineTenths := timeout * 9 / 10; nineTenths > margin {
		margin = nineTenths
	}
	return sub.SubscriptionStart.Add(margin)
}

type entry struct {
	service *model.Service
	due     time.Time
	index   int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler keeps an ordered queue of services with active
// subscriptions and renews each shortly before it would otherwise
// lapse. A subscription whose TimeoutMs is TimeoutInfinite is never
// scheduled.
type Scheduler struct {
	client        *Client
	minRenewSleep time.Duration

	mu    sync.Mutex
	queue entryHeap
	bySvc map[*model.Service]*entry

	wake chan struct{}
	done chan struct{}
}

// NewScheduler builds a Scheduler using client for renewals. minRenewSleep
// floors the sleep between wake-ups; zero uses the 1s default.
func NewScheduler(client *Client, minRenewSleep time.Duration) *Scheduler {
	if minRenewSleep <= 0 {
		minRenewSleep = defaultMinRenewSleep
	}
	return &Scheduler{
		client:        client,
		minRenewSleep: minRenewSleep,
		bySvc:         map[*model.Service]*entry{},
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Track registers svc's current subscription for keep-alive renewal.
// Calling it again for the same service replaces the prior entry.
func (s *Scheduler) Track(svc *model.Service) {
	sub := svc.Subscription()
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.bySvc[svc]; ok {
		heap.Remove(&s.queue, old.index)
		delete(s.bySvc, svc)
	}
	if !sub.Subscribed() || sub.TimeoutMs == TimeoutInfinite {
		return
	}

	e := &entry{service: svc, due: renewalTime(sub)}
	heap.Push(&s.queue, e)
	s.bySvc[svc] = e
	s.signal()
}

// Untrack removes svc from the renewal queue (e.g. after an explicit
// Unsubscribe or device loss).
func (s *Scheduler) Untrack(svc *model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.bySvc[svc]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.bySvc, svc)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives renewal until ctx is cancelled. Renewal failures are
// logged and the service is dropped from the queue; the orchestrator
// is responsible for noticing the subscription has gone and deciding
// whether to resubscribe.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		var sleep time.Duration
		var next *entry
		if len(s.queue) > 0 {
			next = s.queue[0]
			sleep = time.Until(next.due)
			if sleep < s.minRenewSleep {
				sleep = s.minRenewSleep
			}
		} else {
			sleep = time.Hour
		}
		s.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		now := time.Now()
		var due []*entry
		s.mu.Lock()
		for len(s.queue) > 0 && !now.Before(s.queue[0].due) {
			e := heap.Pop(&s.queue).(*entry)
			delete(s.bySvc, e.service)
			due = append(due, e)
		}
		s.mu.Unlock()

		for _, e := range due {
			s.renew(ctx, e.service)
		}
	}
}

func (s *Scheduler) renew(ctx context.Context, svc *model.Service) {
	sub := svc.Subscription()
	if !sub.Subscribed() {
		return
	}
	newSub, err := s.client.Renew(ctx, svc, sub.SID)
	if err != nil {
		log.Warn(ctx, "gena: renewal failed", err, "serviceId", svc.ServiceID, "sid", sub.SID)
		svc.ClearSubscription()
		return
	}
	svc.SetSubscription(newSub)
	s.Track(svc)
}
