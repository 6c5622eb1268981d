// Package discovery announces this node's sponsor API over mDNS (zeroconf)
// and browses for other ccr nodes on the LAN, so wallets and operators can
// find a sponsor willing to submit permits for a given contract.
package discovery

import (
	"context"
	"os"
	"time"

	"github.com/decred/slog"
	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/types"
)

// Announcement is what this node publishes about itself.
type Announcement struct {
	Instance string
	Port     int
	Mode     string
	Account  types.AccountAddress
	Contract *types.ContractAddress
}

func (a Announcement) txt() []string {
	txt := []string{
		txtVersion + "=" + types.Version,
		txtMode + "=" + a.Mode,
		txtAccount + "=" + a.Account.String(),
	}
	if a.Contract != nil {
		txt = append(txt, txtContract+"="+a.Contract.String())
	}
	return txt
}

// Service registers the local node and tracks peers found by browsing.
type Service struct {
	serviceName string
	log         slog.Logger
	peers       *PeerStore
	server      *zeroconf.Server
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewService(serviceName string, log slog.Logger) *Service {
	if log == nil {
		log = slog.Disabled
	}
	return &Service{
		serviceName: serviceName,
		log:         log,
		peers:       NewPeerStore(),
	}
}

// Start announces a and browses until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context, a Announcement) error {
	if a.Instance == "" {
		a.Instance, _ = os.Hostname()
	}
	server, err := zeroconf.Register(a.Instance, s.serviceName, "local.", a.Port, a.txt(), nil)
	if err != nil {
		return errors.Wrap(err, "register mDNS service")
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return errors.Wrap(err, "create mDNS resolver")
	}
	s.server = server
	s.log.Infof("Announced %s as %q on port %d", s.serviceName, a.Instance, a.Port)

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.browse(ctx, resolver)
	return nil
}

func (s *Service) browse(ctx context.Context, resolver *zeroconf.Resolver) {
	defer close(s.done)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if entry.TTL == 0 {
				s.log.Debugf("Peer removed: %s", entry.Instance)
				s.peers.Remove(entry.Instance)
				continue
			}
			s.log.Debugf("Peer seen: %s port %d", entry.Instance, entry.Port)
			s.peers.AddFromServiceEntry(entry)
		}
	}()

	if err := resolver.Browse(ctx, s.serviceName, "local.", entries); err != nil {
		s.log.Errorf("Browse %s: %v", s.serviceName, err)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.peers.Prune(10 * time.Minute); n > 0 {
				s.log.Debugf("Pruned %d stale peers", n)
			}
		}
	}
}

// Browse collects the ccr nodes answering on serviceName until ctx ends.
func Browse(ctx context.Context, serviceName string) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create mDNS resolver")
	}
	peers := NewPeerStore()
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			peers.AddFromServiceEntry(e)
		}
	}()
	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return nil, errors.Wrapf(err, "browse %s", serviceName)
	}
	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return peers.List(), nil
}

// Peers returns the peers seen so far.
func (s *Service) Peers() []Peer {
	return s.peers.List()
}

// Stop withdraws the announcement and ends browsing.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	s.log.Info("Discovery stopped")
}
