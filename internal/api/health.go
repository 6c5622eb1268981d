package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/docs"
	"coinredeem.mini/ccr/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health status
// @Response: {"status": "ok"}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns the ccr version, mode, contract and sponsor account of this node
// @Response: {"version": "...", "mode": "local", "contract": "<0,0>", "sponsor": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":  types.Version,
		"status":   "ok",
		"hostname": hostname,
		"mode":     s.exec.Mode(),
		"contract": s.exec.Contract().String(),
		"sponsor":  s.exec.Sender().String(),
		"go_ver":   runtime.Version(),
		"os_arch":  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

// @Title: Get Accounts
// @Route: GET /api/accounts?address=
// @Description: Returns one account by address, or every account without one
// @Response: {"address": "...", "balance": "...", "keys": {...}}
func (s *Service) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if q := r.URL.Query().Get("address"); q != "" {
		addr, err := types.ParseAccountAddress(q)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		acct, err := s.exec.Account(r.Context(), addr)
		if err != nil {
			s.writeCallError(w, "account", err)
			return
		}
		s.writeJSON(w, http.StatusOK, acct)
		return
	}
	accts, err := s.exec.Accounts(r.Context())
	if err != nil {
		s.writeCallError(w, "accounts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, accts)
}

// @Title: Get Events
// @Route: GET /api/events?since=&limit=
// @Description: Returns recent redemptions, permits and rejects; since returns everything after a sequence number
// @Response: [{"seq": 1, "timestamp": "...", "text": "...", "level": "info"}]
func (s *Service) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		s.writeJSON(w, http.StatusOK, s.events.Since(seq))
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.events.GetRecent(limit))
}

// @Title: Get Peers
// @Route: GET /api/peers?contract=
// @Description: Returns ccr nodes discovered over mDNS, optionally only those serving a contract
// @Response: [{"instance": "...", "port": 8080, "addrs": [...], "contract": "<0,0>"}]
func (s *Service) HandlePeers(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		s.writeError(w, http.StatusServiceUnavailable, "discovery disabled")
		return
	}
	peers := s.peers.Peers()
	if c := r.URL.Query().Get("contract"); c != "" {
		filtered := peers[:0]
		for _, p := range peers {
			if p.Contract == c {
				filtered = append(filtered, p)
			}
		}
		peers = filtered
	}
	s.writeJSON(w, http.StatusOK, peers)
}

// @Title: Get Docs
// @Route: GET /api/docs?name=
// @Description: Returns a rendered protocol document as HTML, or the list of documents without a name
// @Response: text/html document body
func (s *Service) HandleDocs(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "docs unavailable")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		names, err := s.docs.List()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, names)
		return
	}
	html, err := s.docs.Render(r.Context(), name)
	if errors.Is(err, docs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
