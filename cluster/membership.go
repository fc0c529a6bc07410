package cluster

import (
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/sirupsen/logrus"
)

// Membership wraps hashicorp/memberlist's SWIM gossip layer, feeding every
// join/update notification into the Registry as a heartbeat; a leave
// notification is only logged (spec §4.10: "workers heartbeat periodically", which this
// package implements as memberlist's native gossip probing rather than a
// hand-rolled poller — moby-moby's own swarm mode pulls memberlist in for
// exactly this membership problem).
type Membership struct {
	list     *memberlist.Memberlist
	registry *Registry
	log      logrus.FieldLogger
}

// Join creates a memberlist instance bound to bindAddr:bindPort, advertises
// itself under name, and joins the cluster through seeds (may be empty for
// the first node). Every gossiped node event updates registry.
func Join(name, bindAddr string, bindPort int, seeds []string, registry *Registry, log logrus.FieldLogger) (*Membership, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Membership{registry: registry, log: log}

	conf := memberlist.DefaultLANConfig()
	conf.Name = name
	conf.BindAddr = bindAddr
	conf.BindPort = bindPort
	conf.AdvertisePort = bindPort
	conf.Events = m

	list, err := memberlist.Create(conf)
	if err != nil {
		return nil, err
	}
	m.list = list

	if len(seeds) > 0 {
		if _, err := list.Join(seeds); err != nil {
			log.WithError(err).Warn("cluster: partial join failure, continuing with reachable seeds")
		}
	}
	return m, nil
}

// NotifyJoin implements memberlist.EventDelegate: a joining node counts as
// its first heartbeat.
func (m *Membership) NotifyJoin(n *memberlist.Node) {
	m.registry.Heartbeat(n.Name, Capabilities{}, 0)
}

// NotifyLeave implements memberlist.EventDelegate. A graceful leave is
// treated the same as a heartbeat timeout would eventually resolve it:
// later Sweep calls observe the stale heartbeat and step it down through
// Degraded and Failing to Failed.
// We don't force Failed here directly so a flapping node doesn't bypass the
// health-threshold debounce that ordinary heartbeat loss goes through.
func (m *Membership) NotifyLeave(n *memberlist.Node) {
	m.log.WithField("worker", n.Name).Info("cluster: worker left the gossip ring")
}

// NotifyUpdate implements memberlist.EventDelegate: metadata refresh counts
// as a heartbeat too.
func (m *Membership) NotifyUpdate(n *memberlist.Node) {
	m.registry.Heartbeat(n.Name, Capabilities{}, 0)
}

// Members returns the current gossip-visible member names.
func (m *Membership) Members() []string {
	nodes := m.list.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// Leave gracefully departs the gossip ring before Shutdown.
func (m *Membership) Leave(timeout time.Duration) error {
	return m.list.Leave(timeout)
}

func (m *Membership) Shutdown() error { return m.list.Shutdown() }
