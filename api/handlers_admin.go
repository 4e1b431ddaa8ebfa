package api

import (
	"context"
	"net/http"
	"strconv"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	"github.com/gorilla/mux"
)

type pauseRequest struct {
	Reason string `json:"reason"`
}

type blacklistRequest struct {
	Blacklisted bool `json:"blacklisted"`
}

type proposeRequest struct {
	Action    entities.ProposalAction `json:"action"`
	Token     string                  `json:"token"`
	Recipient string                  `json:"recipient,omitempty"`
	Amount    int64                   `json:"amount"`
	Reason    string                  `json:"reason"`
}

type approvalResponse struct {
	ProposalID int64           `json:"proposalId"`
	Signer     entities.UserID `json:"signer"`
	Approved   bool            `json:"approved"`
}

func proposalID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	status, err := s.ledger.CheckUpkeep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handlePerformDistribution is open to any caller; the engine decides whether a step is due
func (s *Server) handlePerformDistribution(w http.ResponseWriter, r *http.Request) {
	result, err := s.ledger.PerformDistribution(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	states, err := s.ledger.GetAutomationStates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	job := entities.PoolType(mux.Vars(r)["job"])
	if err := s.ledger.ResetCircuitBreaker(r.Context(), caller, job); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetGovernance(w http.ResponseWriter, r *http.Request) {
	state, err := s.ledger.GetGovernanceState(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.ledger.EmergencyPause(r.Context(), caller, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetBlacklisted(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req blacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.ledger.SetBlacklisted(r.Context(), caller, pathUser(r), req.Blacklisted); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, s.ledger.GrantRole)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, s.ledger.RevokeRole)
}

type roleChange func(ctx context.Context, actor, target entities.UserID, role entities.Role) error

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request, apply roleChange) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	role := entities.Role(mux.Vars(r)["role"])
	if err := apply(r.Context(), caller, pathUser(r), role); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.ledger.ListActiveProposals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	params := services.ProposeParams{
		Proposer: caller,
		Action:   req.Action,
		Token:    req.Token,
		Amount:   req.Amount,
		Reason:   req.Reason,
	}
	if req.Recipient != "" {
		recipient := entities.NewUserID(req.Recipient)
		params.Recipient = &recipient
	}

	proposal, err := s.ledger.ProposeTreasuryAction(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := proposalID(r)
	if err != nil {
		badRequest(w, "invalid proposal id")
		return
	}
	proposal, err := s.ledger.ApproveTreasuryAction(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := proposalID(r)
	if err != nil {
		badRequest(w, "invalid proposal id")
		return
	}
	proposal, err := s.ledger.CancelTreasuryAction(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleHasApproved(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		badRequest(w, "invalid proposal id")
		return
	}
	signer := entities.NewUserID(mux.Vars(r)["signer"])
	approved, err := s.ledger.HasApproved(r.Context(), id, signer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalResponse{ProposalID: id, Signer: signer, Approved: approved})
}

func (s *Server) handleCleanupProposals(w http.ResponseWriter, r *http.Request) {
	cleaned, err := s.ledger.CleanupExpiredProposals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cleaned})
}
