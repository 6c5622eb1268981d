// Package api is the sponsor HTTP API: wallets post redeem parameters or
// signed permits, and the node submits them from its operator account.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/discovery"
	"coinredeem.mini/ccr/internal/docs"
	"coinredeem.mini/ccr/internal/logger"
	"coinredeem.mini/ccr/internal/store"
	"coinredeem.mini/ccr/internal/tendermint"
)

const maxBodyBytes = 1 << 20

// PeerSource lists sponsor nodes found on the LAN.
type PeerSource interface {
	Peers() []discovery.Peer
}

// Options wires a Service. Store, Peers and Docs may be nil; the endpoints
// depending on them then answer 503. An empty OperatorToken disables the
// endpoints wrapped in RequireOperator.
type Options struct {
	Executor      Executor
	Events        *logger.Logger
	Store         *store.Store
	BackupKeep    int
	Peers         PeerSource
	Docs          *docs.Service
	OperatorToken string
	Log           slog.Logger
}

// Service handles API requests
type Service struct {
	exec          Executor
	events        *logger.Logger
	store         *store.Store
	backupKeep    int
	peers         PeerSource
	docs          *docs.Service
	operatorToken string
	log           slog.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		exec:          opts.Executor,
		events:        opts.Events,
		store:         opts.Store,
		backupKeep:    opts.BackupKeep,
		peers:         opts.Peers,
		docs:          opts.Docs,
		operatorToken: opts.OperatorToken,
		log:           opts.Log,
	}
	if s.events == nil {
		s.events = logger.New(1)
	}
	if s.log == nil {
		s.log = slog.Disabled
	}
	return s
}

// Events is the feed handlers report accepted calls and rejects to.
func (s *Service) Events() *logger.Logger {
	return s.events
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

type rejectResponse struct {
	Error string `json:"error"`
	Code  int32  `json:"code"`
}

// writeCallError answers a failed contract call. Rejects are 422 with the
// reject name and code.
func (s *Service) writeCallError(w http.ResponseWriter, entry string, err error) {
	if rej, ok := contract.AsError(err); ok {
		s.events.Warning(fmt.Sprintf("%s rejected: %s (%d)", entry, rej.Name(), rej.Code()))
		s.writeJSON(w, http.StatusUnprocessableEntity, rejectResponse{Error: rej.Name(), Code: rej.Code()})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chain.ErrAccountNotFound), errors.Is(err, chain.ErrContractNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tendermint.ErrTxFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.log.Errorf("%s failed: %v", entry, err)
	s.writeError(w, status, err.Error())
}

// decodeBody reads a JSON request body into v, refusing unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

// update runs an update call and answers with its receipt.
func (s *Service) update(w http.ResponseWriter, r *http.Request, entry string, param []byte, describe func(Receipt) string) {
	receipt, err := s.exec.Update(r.Context(), entry, param)
	if err != nil {
		s.writeCallError(w, entry, err)
		return
	}
	receipt.ID = uuid.NewString()
	s.events.Info(fmt.Sprintf("%s %s", receipt.ID, describe(receipt)))
	s.log.Debugf("%s accepted as %s", entry, receipt.ID)
	s.writeJSON(w, http.StatusOK, receipt)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
