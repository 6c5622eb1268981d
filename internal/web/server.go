// Package web serves the sponsor API, the live event stream and a small
// status page for a ccr node.
package web

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/api"
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/logger"
	"coinredeem.mini/ccr/internal/metrics"
	"coinredeem.mini/ccr/internal/types"
)

// UpdateSource signals committed contract state changes.
type UpdateSource interface {
	Updates() <-chan struct{}
}

// stateBroker fans state change notifications out to stream clients.
type stateBroker struct {
	mu      sync.RWMutex
	clients map[chan struct{}]struct{}
}

func newStateBroker() *stateBroker {
	return &stateBroker{clients: make(map[chan struct{}]struct{})}
}

func (b *stateBroker) register() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := make(chan struct{}, 1)
	b.clients[c] = struct{}{}
	return c
}

func (b *stateBroker) unregister(c chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func (b *stateBroker) broadcast() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		select {
		case c <- struct{}{}:
		default:
			// already pending
		}
	}
}

// Options configures a Server. Updates and Metrics may be nil.
type Options struct {
	Port    int
	API     *api.Service
	Exec    api.Executor
	Updates UpdateSource
	Metrics *metrics.Metrics
	Log     slog.Logger
}

// Server is the HTTP front of a node.
type Server struct {
	port      int
	api       *api.Service
	exec      api.Executor
	events    *logger.Logger
	updates   UpdateSource
	metrics   *metrics.Metrics
	templates *template.Template
	broker    *stateBroker
	log       slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	if opts.Log == nil {
		opts.Log = slog.Disabled
	}
	return &Server{
		port:      opts.Port,
		api:       opts.API,
		exec:      opts.Exec,
		events:    opts.API.Events(),
		updates:   opts.Updates,
		metrics:   opts.Metrics,
		templates: templates,
		broker:    newStateBroker(),
		log:       opts.Log,
	}, nil
}

// Handler returns the routed handler of every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	a := s.api

	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("/api/view", a.HandleView)
	mux.HandleFunc("/api/coins/{key}", a.HandleCoin)
	mux.HandleFunc("/api/redeem", a.HandleRedeem)
	mux.HandleFunc("/api/permit", a.HandlePermit)
	mux.HandleFunc("/api/issue", a.RequireOperator(a.HandleIssue))
	mux.HandleFunc("/api/admin", a.RequireOperator(a.HandleSetAdmin))
	mux.HandleFunc("/api/message-hash", a.HandleMessageHash)
	mux.HandleFunc("/api/supports-permit", a.HandleSupportsPermit)
	mux.HandleFunc("/api/accounts", a.HandleAccounts)
	mux.HandleFunc("GET /api/health", a.HandleHealth)
	mux.HandleFunc("GET /api/version", a.HandleVersion)
	mux.HandleFunc("GET /api/events", a.HandleEvents)
	mux.HandleFunc("GET /api/peers", a.HandlePeers)
	mux.HandleFunc("GET /api/docs", a.HandleDocs)
	mux.HandleFunc("/api/backups/create", a.HandleBackupCreate)
	mux.HandleFunc("GET /api/backups/list", a.HandleBackupsList)
	mux.HandleFunc("/api/backups/download", a.HandleSnapshotDownload)

	mux.HandleFunc("GET /ws/events", s.handleEventsWS)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.updates != nil {
		go s.watchUpdates(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("Serving sponsor API on http://localhost:%d", s.port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serve HTTP")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shut down HTTP server")
	}
	return nil
}

// watchUpdates forwards committed state changes to stream clients.
func (s *Server) watchUpdates(ctx context.Context) {
	updates := s.updates.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			s.broker.broadcast()
		}
	}
}

type indexData struct {
	Version  string
	Mode     string
	Contract types.ContractAddress
	Sponsor  types.AccountAddress
	View     *types.ViewReturnData
	Balance  types.Amount
	Error    string
	Events   []logger.Message
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Version:  types.Version,
		Mode:     s.exec.Mode(),
		Contract: s.exec.Contract(),
		Sponsor:  s.exec.Sender(),
		Events:   s.events.GetRecent(20),
	}
	if res, err := s.exec.Invoke(r.Context(), contract.EntryView, nil); err != nil {
		data.Error = err.Error()
	} else if v, err := codec.DecodeViewReturnData(res.ReturnValue); err != nil {
		data.Error = err.Error()
	} else {
		data.View = &v
	}
	if acct, err := s.exec.Account(r.Context(), s.exec.Sender()); err == nil {
		data.Balance = acct.Balance
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if err := s.templates.ExecuteTemplate(w, "index", data); err != nil {
		s.log.Errorf("render index: %v", err)
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
	}
}
