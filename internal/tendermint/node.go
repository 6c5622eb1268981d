// Package tendermint connects ccr to a Tendermint node: the node process
// connects to our ABCI socket server, and sponsors submit transactions and
// queries back through the node's JSON-RPC endpoint.
package tendermint

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/service"
)

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is where the ABCI server listens, e.g.
	// "tcp://127.0.0.1:26658" or "unix://ccr.sock".
	SocketAddress string
}

// ABCIServer wraps an ABCI socket server.
type ABCIServer struct {
	server service.Service
	socket string
}

// NewABCIServer creates the server. It does not listen until Start.
func NewABCIServer(app abci.Application, config *Config) (*ABCIServer, error) {
	if app == nil {
		return nil, errors.New("ABCI application cannot be nil")
	}
	if config == nil || config.SocketAddress == "" {
		return nil, errors.New("socket address cannot be empty")
	}
	return &ABCIServer{
		server: abciserver.NewSocketServer(config.SocketAddress, app),
		socket: config.SocketAddress,
	}, nil
}

func (s *ABCIServer) Start() error {
	return errors.Wrap(s.server.Start(), "start ABCI server")
}

// Stop shuts the server down and removes a unix socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return errors.Wrap(err, "stop ABCI server")
		}
	}
	if path, ok := strings.CutPrefix(s.socket, "unix://"); ok {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}
	return nil
}

func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

func (s *ABCIServer) SocketPath() string {
	return s.socket
}
