package models

// PeerInfo describes one entry of the swarm's peer list.
type PeerInfo struct {
	ID       int
	Hostname string
	Port     uint16
	HasFile  bool
}

func (p PeerInfo) Addr() Addr {
	return Addr{Host: p.Hostname, Port: p.Port}
}
