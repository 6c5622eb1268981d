package discovery

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// TXT record keys a ccr node announces.
const (
	txtVersion  = "ver"
	txtMode     = "mode"
	txtAccount  = "account"
	txtContract = "contract"
)

// Peer is a ccr node seen on the LAN.
type Peer struct {
	Instance string    `json:"instance"`
	Hostname string    `json:"hostname"`
	Port     int       `json:"port"`
	Addrs    []net.IP  `json:"addrs"`
	Version  string    `json:"version,omitempty"`
	Mode     string    `json:"mode,omitempty"`
	Account  string    `json:"account,omitempty"`
	Contract string    `json:"contract,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// URL is the base URL of the peer's sponsor API, or "" without an address.
func (p Peer) URL() string {
	if len(p.Addrs) == 0 {
		return ""
	}
	return "http://" + net.JoinHostPort(p.Addrs[0].String(), strconv.Itoa(p.Port))
}

// PeerStore holds discovered peers keyed by instance name.
type PeerStore struct {
	mtx   sync.RWMutex
	peers map[string]Peer
	now   func() time.Time
}

func NewPeerStore() *PeerStore {
	return &PeerStore{peers: make(map[string]Peer), now: time.Now}
}

// AddFromServiceEntry adds or refreshes the peer behind e.
func (ps *PeerStore) AddFromServiceEntry(e *zeroconf.ServiceEntry) {
	if e == nil {
		return
	}
	txt := parseTXT(e.Text)
	peer := Peer{
		Instance: e.Instance,
		Hostname: e.HostName,
		Port:     e.Port,
		Addrs:    append([]net.IP(nil), e.AddrIPv4...),
		Version:  txt[txtVersion],
		Mode:     txt[txtMode],
		Account:  txt[txtAccount],
		Contract: txt[txtContract],
	}

	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	peer.LastSeen = ps.now()
	ps.peers[e.Instance] = peer
}

func (ps *PeerStore) Remove(instance string) {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	delete(ps.peers, instance)
}

// List returns the known peers ordered by instance name.
func (ps *PeerStore) List() []Peer {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	out := make([]Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// Sponsors returns the peers serving the given contract ("<index>,<subindex>").
func (ps *PeerStore) Sponsors(contract string) []Peer {
	var out []Peer
	for _, p := range ps.List() {
		if p.Contract == contract {
			out = append(out, p)
		}
	}
	return out
}

// Prune drops peers not seen within maxAge and returns how many went.
func (ps *PeerStore) Prune(maxAge time.Duration) int {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	cutoff := ps.now().Add(-maxAge)
	n := 0
	for id, p := range ps.peers {
		if p.LastSeen.Before(cutoff) {
			delete(ps.peers, id)
			n++
		}
	}
	return n
}

func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok {
			txt[k] = v
		}
	}
	return txt
}
