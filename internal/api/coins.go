package api

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/types"
)

type viewResponse struct {
	Contract types.ContractAddress `json:"contract"`
	types.ViewReturnData
}

// @Title: View Contract
// @Route: GET /api/view
// @Description: Returns the admin and every coin of the contract
// @Response: {"contract": {"index": 0, "subindex": 0}, "coins": [...], "admin": "..."}
func (s *Service) HandleView(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	res, err := s.exec.Invoke(r.Context(), contract.EntryView, nil)
	if err != nil {
		s.writeCallError(w, contract.EntryView, err)
		return
	}
	v, err := codec.DecodeViewReturnData(res.ReturnValue)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if v.Coins == nil {
		v.Coins = []types.CoinView{}
	}
	s.writeJSON(w, http.StatusOK, viewResponse{Contract: s.exec.Contract(), ViewReturnData: v})
}

// @Title: View Coin
// @Route: GET /api/coins/{key}
// @Description: Returns the amount and redeemed flag of one coin, keyed by hex public key
// @Response: {"public_key": "...", "amount": "5000000", "is_redeemed": false}
func (s *Service) HandleCoin(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	key, err := types.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid coin key")
		return
	}
	res, err := s.exec.Invoke(r.Context(), contract.EntryViewCoin, codec.EncodePublicKey(key))
	if err != nil {
		s.writeCallError(w, contract.EntryViewCoin, err)
		return
	}
	coin, err := codec.DecodeCoinState(res.ReturnValue)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, types.CoinView{PublicKey: key, CoinState: coin})
}

// @Title: Redeem Coin
// @Route: POST /api/redeem
// @Description: Redeems a coin with the coin key's signature over the receiving account
// @Response: {"id": "...", "contract": {...}, "entry_point": "redeem", "transfers": [...]}
func (s *Service) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var p types.RedeemParam
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.update(w, r, contract.EntryRedeem, codec.EncodeRedeemParam(p), func(rc Receipt) string {
		return fmt.Sprintf("redeemed coin %s: %s to %s", p.PublicKey, rc.Total(), p.Account)
	})
}

// @Title: Submit Permit
// @Route: POST /api/permit
// @Description: Submits an account-signed permit; this node pays for the call
// @Response: {"id": "...", "contract": {...}, "entry_point": "permit", "transfers": [...]}
func (s *Service) HandlePermit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var p types.PermitParam
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := codec.CheckPermitParam(p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.update(w, r, contract.EntryPermit, codec.EncodePermitParam(p), func(rc Receipt) string {
		return fmt.Sprintf("sponsored %s for %s: %s paid", p.Message.EntryPoint, p.Signer, rc.Total())
	})
}

// @Title: Issue Coins
// @Route: POST /api/issue
// @Description: Adds coins to the contract; a duplicate key rejects the batch. Needs the operator token
// @Response: {"id": "...", "entry_point": "issue"}
func (s *Service) HandleIssue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var coins types.CoinList
	if err := decodeBody(w, r, &coins); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.update(w, r, contract.EntryIssue, codec.EncodeCoinList(coins), func(Receipt) string {
		return fmt.Sprintf("issued %d coins worth %s", len(coins.Coins), coins.Total())
	})
}

type setAdminRequest struct {
	Admin types.AccountAddress `json:"admin"`
}

// @Title: Set Admin
// @Route: POST /api/admin
// @Description: Hands the contract admin role to another account; this node must be the admin. Needs the operator token
// @Response: {"id": "...", "entry_point": "setAdmin"}
func (s *Service) HandleSetAdmin(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req setAdminRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.update(w, r, contract.EntrySetAdmin, codec.EncodeAccountAddress(req.Admin), func(Receipt) string {
		return fmt.Sprintf("admin set to %s", req.Admin)
	})
}

// @Title: Permit Message Hash
// @Route: POST /api/message-hash
// @Description: Returns the hash an account signs for a permit; signatures in the body are ignored
// @Response: {"hash": "..."}
func (s *Service) HandleMessageHash(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var p types.PermitParam
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := codec.CheckPermitParam(p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.exec.Invoke(r.Context(), contract.EntryViewMessageHash, codec.EncodePermitParam(p))
	if err != nil {
		s.writeCallError(w, contract.EntryViewMessageHash, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"hash": hex.EncodeToString(res.ReturnValue)})
}

type supportsRequest struct {
	EntryPoints []string `json:"entrypoints"`
}

type supportsEntry struct {
	EntryPoint string `json:"entrypoint"`
	types.SupportResult
}

// @Title: Permit Support
// @Route: POST /api/supports-permit
// @Description: Reports for each named entry point whether permit can dispatch to it
// @Response: [{"entrypoint": "redeem", "kind": "Support"}]
func (s *Service) HandleSupportsPermit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req supportsRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, name := range req.EntryPoints {
		if !codec.ValidEntrypointName(name) {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entry point name %q", name))
			return
		}
	}
	res, err := s.exec.Invoke(r.Context(), contract.EntrySupportsPermit, codec.EncodeEntrypointNames(req.EntryPoints))
	if err != nil {
		s.writeCallError(w, contract.EntrySupportsPermit, err)
		return
	}
	results, err := codec.DecodeSupportResults(res.ReturnValue)
	if err != nil || len(results) != len(req.EntryPoints) {
		s.writeError(w, http.StatusInternalServerError, "malformed supportsPermit result")
		return
	}
	out := make([]supportsEntry, len(results))
	for i, res := range results {
		out[i] = supportsEntry{EntryPoint: req.EntryPoints[i], SupportResult: res}
	}
	s.writeJSON(w, http.StatusOK, out)
}
