package api

import (
	"net/http"
	"strconv"

	"matrixfund/domain/entities"

	"github.com/gorilla/mux"
)

type registerRequest struct {
	User    string               `json:"user"`
	Sponsor string               `json:"sponsor"`
	Tier    entities.PackageTier `json:"tier"`
}

type upgradeRequest struct {
	Tier entities.PackageTier `json:"tier"`
}

func pathUser(r *http.Request) entities.UserID {
	return entities.NewUserID(mux.Vars(r)["id"])
}

func callerOf(r *http.Request) entities.UserID {
	return entities.NewUserID(r.Header.Get(CallerHeader))
}

// requireCaller writes 401 and returns false when the caller header is missing
func requireCaller(w http.ResponseWriter, r *http.Request) (entities.UserID, bool) {
	caller := callerOf(r)
	if caller == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + CallerHeader + " header", Kind: "governance"})
		return "", false
	}
	return caller, true
}

// requireSelf only lets a user act on their own account
func requireSelf(w http.ResponseWriter, r *http.Request) (entities.UserID, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return "", false
	}
	if caller != pathUser(r) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "caller may only act on their own account", Kind: "governance"})
		return "", false
	}
	return caller, true
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// handleRegister registers the caller. The package is paid from the caller's
// wallet, so a body user other than the caller is refused.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if user := entities.NewUserID(req.User); user != "" && user != caller {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "caller may only register themselves", Kind: "governance"})
		return
	}

	result, err := s.ledger.Register(r.Context(), entities.NewUserID(req.Sponsor), caller, req.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.GetUser(r.Context(), pathUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	user, ok := requireSelf(w, r)
	if !ok {
		return
	}
	var req upgradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	result, err := s.ledger.UpgradePackage(r.Context(), user, req.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWithdrawalQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.ledger.GetWithdrawalQuote(r.Context(), pathUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := requireSelf(w, r)
	if !ok {
		return
	}
	result, err := s.ledger.Withdraw(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	credits, err := s.ledger.GetCredits(r.Context(), pathUser(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

func (s *Server) handleGetWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	withdrawals, err := s.ledger.GetWithdrawals(r.Context(), pathUser(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawals)
}

func (s *Server) handleGetMatrixNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.ledger.GetMatrixNode(r.Context(), pathUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ledger.GetPools(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}
