package cluster

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// PendingAction is one unit of work waiting for a worker, carried in the
// reassignment queue and the initial dispatch path alike.
type PendingAction struct {
	Request *DispatchRequest
}

// Dispatcher selects a healthy, non-blacklisted worker for each pending
// action, dials it, and on failure requeues the action via the FIFO
// reassignment queue and blacklists the worker with backoff (spec §4.10).
type Dispatcher struct {
	registry *Registry
	blist    *Blacklist
	queue    *ReassignQueue
	strategy Strategy
	log      logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*WorkerClient
	dial    func(address string) (*WorkerClient, error)
	addrOf  func(workerID string) string
}

func NewDispatcher(registry *Registry, strategy Strategy, dial func(string) (*WorkerClient, error), addrOf func(string) string, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if strategy == nil {
		strategy = LeastLoaded{}
	}
	return &Dispatcher{
		registry: registry,
		blist:    NewBlacklist(),
		queue:    NewReassignQueue(),
		strategy: strategy,
		log:      log,
		clients:  make(map[string]*WorkerClient),
		dial:     dial,
		addrOf:   addrOf,
	}
}

// candidates returns every Healthy, not-currently-blacklisted worker.
func (d *Dispatcher) candidates() []*WorkerState {
	all := d.registry.Healthy()
	out := all[:0]
	for _, w := range all {
		if !d.blist.Blacklisted(w.ID) {
			out = append(out, w)
		}
	}
	return out
}

// Dispatch picks a candidate for action and runs it; on a transport-level
// failure (not a normal non-zero exit reported by the reply) it blacklists
// the worker and pushes the action onto the reassignment queue instead of
// failing the build outright.
func (d *Dispatcher) Dispatch(ctx context.Context, action PendingAction) (*DispatchReply, error) {
	w := d.strategy.Select(d.candidates(), action.Request.InputDigestHex)
	if w == nil {
		d.queue.PushAll([]string{action.Request.ActionID})
		return nil, errNoCandidate
	}

	client, err := d.clientFor(w.ID)
	if err != nil {
		d.markFailed(w.ID, action.Request.ActionID)
		return nil, err
	}

	d.registry.AssignAction(w.ID, action.Request.ActionID)
	reply, err := client.Dispatch(ctx, action.Request)
	if err != nil {
		d.markFailed(w.ID, action.Request.ActionID)
		return nil, err
	}

	d.registry.CompleteAction(w.ID, action.Request.ActionID, reply.Status == "succeeded")
	return reply, nil
}

func (d *Dispatcher) markFailed(workerID, actionID string) {
	d.blist.Mark(workerID)
	for _, k := range d.registry.DrainInProgress(workerID) {
		d.queue.PushAll([]string{k})
	}
	d.queue.PushAll([]string{actionID})
	d.log.WithField("worker", workerID).Warn("cluster: worker dispatch failed, blacklisted and requeued its work")
}

// Reap runs one Sweep pass: every worker that just became Failed has its
// in-progress actions drained into the reassignment queue and is
// blacklisted. Callers invoke it periodically and pop from Queue()
// themselves to redispatch.
func (d *Dispatcher) Reap() {
	for _, workerID := range d.registry.Sweep() {
		for _, k := range d.registry.DrainInProgress(workerID) {
			d.queue.PushAll([]string{k})
		}
		d.blist.Mark(workerID)
	}
}

func (d *Dispatcher) Queue() *ReassignQueue { return d.queue }

func (d *Dispatcher) clientFor(workerID string) (*WorkerClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[workerID]; ok {
		return c, nil
	}
	c, err := d.dial(d.addrOf(workerID))
	if err != nil {
		return nil, err
	}
	d.clients[workerID] = c
	return c, nil
}

type dispatchError string

func (e dispatchError) Error() string { return string(e) }

const errNoCandidate = dispatchError("cluster: no healthy candidate worker available")
